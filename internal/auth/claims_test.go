package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, now func() time.Time) *JWTCodec {
	t.Helper()
	c, err := NewJWTCodec(CodecConfig{
		Secret: testSecret, Issuer: "forum-core", Audience: "forum-clients",
		TTL: 15 * time.Minute, Now: now,
	})
	if err != nil {
		t.Fatalf("NewJWTCodec() error = %v", err)
	}
	return c
}

func TestJWTCodec_IssueAndParse(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock.Now)
	user := &User{ID: "usr-001", Email: "a@x.com", Role: RoleModerator}

	token, exp, err := codec.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if want := clock.Now().Add(15 * time.Minute); !exp.Equal(want) {
		t.Errorf("expiry = %v, want %v", exp, want)
	}

	claims, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Subject != "usr-001" || claims.Email != "a@x.com" || claims.Role != RoleModerator {
		t.Errorf("claims = %+v", claims)
	}
	if claims.Issuer != "forum-core" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}
	if id := claims.Identity(); id.UserID != "usr-001" || id.Role != RoleModerator {
		t.Errorf("Identity() = %+v", id)
	}
}

func TestJWTCodec_Rejects(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock.Now)
	user := &User{ID: "usr-001", Role: RoleUser}
	valid, _, err := codec.Issue(user)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	otherAudience, err := NewJWTCodec(CodecConfig{
		Secret: testSecret, Issuer: "forum-core", Audience: "someone-else",
		TTL: time.Minute, Now: clock.Now,
	})
	if err != nil {
		t.Fatalf("NewJWTCodec() error = %v", err)
	}
	foreign, _, _ := otherAudience.Issue(user) //nolint:errcheck // fixture

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "usr-001"}, Role: RoleAdmin,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name  string
		token string
		setup func()
	}{
		{"garbage", "not-a-jwt", nil},
		{"tampered", valid[:len(valid)-2] + "xx", nil},
		{"wrong audience", foreign, nil},
		{"alg none", none, nil},
		{"expired", valid, func() { clock.Advance(16 * time.Minute) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := codec.Parse(tt.token)
			if !errors.Is(err, ErrAuthentication) {
				t.Errorf("Parse() error = %v, want authentication error", err)
			}
		})
	}
}

func TestNewJWTCodec_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  CodecConfig
	}{
		{"short secret", CodecConfig{Secret: "short", Issuer: "i", Audience: "a", TTL: time.Minute}},
		{"missing issuer", CodecConfig{Secret: testSecret, Audience: "a", TTL: time.Minute}},
		{"missing audience", CodecConfig{Secret: testSecret, Issuer: "i", TTL: time.Minute}},
		{"zero ttl", CodecConfig{Secret: testSecret, Issuer: "i", Audience: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewJWTCodec(tt.cfg); err == nil {
				t.Error("NewJWTCodec() should fail")
			}
		})
	}
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h))
	}
	if h != HashToken("abc") {
		t.Error("HashToken should be deterministic")
	}
	if h == HashToken("abd") {
		t.Error("different inputs should hash differently")
	}
}

func TestGenerateRefreshToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		raw, err := GenerateRefreshToken()
		if err != nil {
			t.Fatalf("GenerateRefreshToken() error = %v", err)
		}
		if seen[raw] {
			t.Fatal("duplicate refresh token")
		}
		seen[raw] = true
	}
}
