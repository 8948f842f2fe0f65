package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargetsFile(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []targetFromYAML
		wantErr string
	}{
		{
			name: "names default to host",
			data: `
targets:
  - host: 192.168.1.10
    user: admin
    key: ~/.ssh/id_rsa
  - name: lab node/2
    host: node2
    port: "2222"
`,
			want: []targetFromYAML{
				{Name: "192.168.1.10", Host: "192.168.1.10", User: "admin", Key: "~/.ssh/id_rsa"},
				{Name: "lab_node_2", Host: "node2", Port: "2222"},
			},
		},
		{
			name:    "no targets",
			data:    "targets: []\n",
			wantErr: "lists no targets",
		},
		{
			name:    "missing host",
			data:    "targets:\n  - name: a\n",
			wantErr: "target 1 in targets file has no host",
		},
		{
			name:    "password",
			data:    "targets:\n  - host: a\n    pwd: secret\n",
			wantErr: "password authentication is not supported",
		},
		{
			name:    "duplicate after sanitizing",
			data:    "targets:\n  - name: a b\n    host: x\n  - name: a_b\n    host: y\n",
			wantErr: "duplicate target name",
		},
		{
			name:    "unknown key",
			data:    "targets:\n  - host: a\n    password: secret\n",
			wantErr: "failed to parse targets file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTargetsFile([]byte(tt.data))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeTargetName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"host-1.example.com", "host-1.example.com"},
		{"my host", "my_host"},
		{"a/b:c", "a_b_c"},
		{"node_07", "node_07"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeTargetName(tt.in), tt.in)
	}
}
