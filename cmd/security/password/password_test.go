package password

import (
	"errors"
	"testing"
)

func testHasher() Hasher {
	h := Default()
	// Cheap parameters keep the suite fast; bounds logic is unchanged.
	h.Params.MemoryKiB = 8 * 1024
	h.Params.Iterations = 1
	return h
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	h := testHasher()

	enc, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	ok, err := h.Verify(enc, "correct horse battery staple")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}

	ok, err = h.Verify(enc, "incorrect horse")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch")
	}
}

func TestVerify_MalformedHash(t *testing.T) {
	t.Parallel()

	h := testHasher()

	for _, enc := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := h.Verify(enc, "whatever")
		if !errors.Is(err, ErrMalformedHash) {
			t.Fatalf("Verify(%q): expected ErrMalformedHash, got %v", enc, err)
		}
		if ok {
			t.Fatalf("Verify(%q): expected false", enc)
		}
	}
}

func TestVerify_RefusesOversizedParams(t *testing.T) {
	t.Parallel()

	h := testHasher()

	// Claims 1 GiB of memory; decode succeeds but bounds reject it.
	enc := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5"
	if _, err := h.Verify(enc, "whatever"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestCheck_Policy(t *testing.T) {
	t.Parallel()

	h := testHasher()
	h.Policy.MaxLength = 16

	tests := []struct {
		name string
		pw   string
		want error
	}{
		{"too short", "seven77", ErrTooShort},
		{"too long", "seventeen chars!!", ErrTooLong},
		{"all same rune", "aaaaaaaa", ErrWeak},
		{"pin like", "12345678", ErrWeak},
		{"dictionary", "password", ErrWeak},
		{"acceptable", "tr0ub4dor&3", nil},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := h.Check(tc.pw); !errors.Is(err, tc.want) {
				t.Fatalf("Check(%q) = %v, want %v", tc.pw, err, tc.want)
			}
		})
	}
}

func TestCheck_WeakRejectionOptional(t *testing.T) {
	t.Parallel()

	h := testHasher()
	h.Policy.RejectWeak = false

	if err := h.Check("password"); err != nil {
		t.Fatalf("expected ok with RejectWeak off, got %v", err)
	}
}
