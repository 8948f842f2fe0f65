package hotplug

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCPUs(t *testing.T) {
	all := []int{0, 1, 2, 3, 4, 5, 6, 7}
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"all", all, false},
		{" ALL ", all, false},
		{"4-7", []int{4, 5, 6, 7}, false},
		{"7,1-2", []int{1, 2, 7}, false},
		{"3", []int{3}, false},
		{"three", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseCPUs(tt.in, all)
			if tt.wantErr {
				assert.ErrorContains(t, err, "bad --cpus value")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeOrNone(t *testing.T) {
	assert.Equal(t, "none", rangeOrNone(nil))
	assert.Equal(t, "0-3,8", rangeOrNone([]int{0, 1, 2, 3, 8}))
}
