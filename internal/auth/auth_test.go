package auth

import (
	"errors"
	"testing"
)

func TestGuardAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		header  string
		wantErr error
	}{
		{name: "open guard admits anyone", token: "", header: "", wantErr: nil},
		{name: "open guard ignores garbage header", token: "", header: "Basic junk", wantErr: nil},
		{name: "missing header denied", token: "sekrit", header: "", wantErr: ErrUnauthorized},
		{name: "wrong scheme denied", token: "sekrit", header: "Basic sekrit", wantErr: ErrUnauthorized},
		{name: "wrong token denied", token: "sekrit", header: "Bearer nope", wantErr: ErrUnauthorized},
		{name: "matching bearer accepted", token: "sekrit", header: "Bearer sekrit", wantErr: nil},
		{name: "padded bearer accepted", token: "sekrit", header: "Bearer   sekrit  ", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := NewGuard(tc.token).Authorize(tc.header)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestGuardOpen(t *testing.T) {
	if !NewGuard("").Open() {
		t.Fatalf("empty token should leave the guard open")
	}
	if NewGuard("sekrit").Open() {
		t.Fatalf("configured token should close the guard")
	}
}
