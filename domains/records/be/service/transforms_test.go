package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

func TestApplyTransforms(t *testing.T) {
	t.Run("functions", func(t *testing.T) {
		cases := []struct {
			fn   string
			in   string
			want string
		}{
			{"uppercase", "sku-17", "SKU-17"},
			{"lowercase", "SKU-17", "sku-17"},
			{"trim", "  padded  ", "padded"},
			{"base64_encode", "secret", "c2VjcmV0"},
			{"base64_decode", "c2VjcmV0", "secret"},
		}
		for _, tc := range cases {
			field := fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: tc.fn}}}
			got, err := applyTransforms(field, PhaseRequest, tc.in)
			require.NoError(t, err, tc.fn)
			require.Equal(t, tc.want, got, tc.fn)
		}
	})

	t.Run("chain runs in declaration order", func(t *testing.T) {
		field := fieldSpec{ID: "f", Transforms: []transformSpec{
			{Fn: "trim"},
			{Fn: "uppercase"},
			{Fn: "base64_encode"},
		}}
		got, err := applyTransforms(field, PhaseRequest, "  code  ")
		require.NoError(t, err)
		require.Equal(t, "Q09ERQ==", got)
	})

	t.Run("phase selection", func(t *testing.T) {
		field := fieldSpec{ID: "f", Transforms: []transformSpec{
			{Fn: "uppercase", On: "request"},
			{Fn: "lowercase", On: "response"},
		}}

		got, err := applyTransforms(field, PhaseRequest, "Mixed")
		require.NoError(t, err)
		require.Equal(t, "MIXED", got)

		got, err = applyTransforms(field, PhaseResponse, "Mixed")
		require.NoError(t, err)
		require.Equal(t, "mixed", got)

		// "both" and an empty phase apply everywhere
		field = fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: "trim", On: "both"}}}
		got, err = applyTransforms(field, PhaseResponse, " x ")
		require.NoError(t, err)
		require.Equal(t, "x", got)
	})

	t.Run("nil passes through untouched", func(t *testing.T) {
		field := fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: "uppercase"}}}
		got, err := applyTransforms(field, PhaseRequest, nil)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("failures", func(t *testing.T) {
		_, err := applyTransforms(fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: "rot13"}}}, PhaseRequest, "x")
		require.ErrorIs(t, err, persistence.ErrInvalidArgument)

		_, err = applyTransforms(fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: "uppercase"}}}, PhaseRequest, 7)
		require.ErrorIs(t, err, persistence.ErrInvalidArgument)

		_, err = applyTransforms(fieldSpec{ID: "f", Transforms: []transformSpec{{Fn: "base64_decode"}}}, PhaseRequest, "%%%")
		require.ErrorIs(t, err, persistence.ErrInvalidArgument)
	})
}
