package jwt

import (
	"testing"
	"time"
)

// FuzzParse feeds arbitrary strings to both parsers of an HS256 manager.
// Malformed input must fail with an error, and no input may be accepted
// as both an access and a refresh token.
func FuzzParse(f *testing.F) {
	mgr, err := NewManager(Config{
		AccessTTL:     8 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("fuzz-signing-key-0123456789abcdef"),
		Issuer:        "clinicore-identity",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		f.Fatal(err)
	}

	id := Identity{UserID: "u-1", Email: "alice@test.com", Role: "ADMIN", DepartmentID: "cardio"}
	access, _, err := mgr.CreateAccess(id)
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, err := mgr.CreateRefresh(id)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(access)
	f.Add(refresh)
	f.Add("")
	f.Add("Bearer " + access)
	f.Add(access[:len(access)-2])
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOiJ1LTEifQ.")

	f.Fuzz(func(t *testing.T, input string) {
		ac, aerr := mgr.ParseAccess(input)
		rc, rerr := mgr.ParseRefresh(input)

		if aerr == nil && rerr == nil {
			t.Fatalf("token accepted by both parsers: %q", input)
		}
		if aerr == nil && (ac == nil || ac.Type != TypeAccess) {
			t.Fatalf("ParseAccess accepted %+v", ac)
		}
		if rerr == nil && (rc == nil || rc.Type != TypeRefresh) {
			t.Fatalf("ParseRefresh accepted %+v", rc)
		}
	})
}
