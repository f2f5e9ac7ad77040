package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestCodec(t *testing.T, clock *testClock) *Codec {
	t.Helper()
	c, err := NewCodec(testSecret, DefaultIssuer, WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	return c
}

func TestNewCodec_RequiresSecret(t *testing.T) {
	if _, err := NewCodec("", "smartrack"); err == nil {
		t.Error("NewCodec() with empty secret should fail")
	}
}

func TestCodec_UserAccessToken(t *testing.T) {
	clock := newTestClock()
	c := newTestCodec(t, clock)

	token, err := c.IssueUserAccessToken(42, RoleOrgAdmin)
	if err != nil {
		t.Fatalf("IssueUserAccessToken() error = %v", err)
	}

	claims, err := c.VerifyUserAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyUserAccessToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Role != RoleOrgAdmin {
		t.Errorf("VerifyUserAccessToken() = %+v, want {42 org_admin}", claims)
	}

	clock.Advance(UserAccessTokenTTL - time.Second)
	if _, err := c.VerifyUserAccessToken(token); err != nil {
		t.Errorf("token should still be valid just before expiry, got %v", err)
	}
	clock.Advance(2 * time.Second)
	if _, err := c.VerifyUserAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired token error = %v, want ErrTokenInvalid", err)
	}
}

func TestCodec_RoleClaimKey(t *testing.T) {
	c := newTestCodec(t, newTestClock())
	token, err := c.IssueUserAccessToken(7, RoleSysAdmin)
	if err != nil {
		t.Fatalf("IssueUserAccessToken() error = %v", err)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		t.Fatalf("ParseUnverified() error = %v", err)
	}
	if claims["sub:role"] != "sys_admin" {
		t.Errorf(`claims["sub:role"] = %v, want sys_admin`, claims["sub:role"])
	}
	if claims["sub"] != "7" {
		t.Errorf(`claims["sub"] = %v, want "7"`, claims["sub"])
	}
}

func TestCodec_RefreshToken(t *testing.T) {
	clock := newTestClock()
	c := newTestCodec(t, clock)
	validUntil := clock.Now().Add(24 * time.Hour)

	token, err := c.IssueUserRefreshToken(9, "jti-abc", validUntil)
	if err != nil {
		t.Fatalf("IssueUserRefreshToken() error = %v", err)
	}

	claims, err := c.VerifyUserRefreshToken(token)
	if err != nil {
		t.Fatalf("VerifyUserRefreshToken() error = %v", err)
	}
	if claims.UserID != 9 || claims.JTI != "jti-abc" {
		t.Errorf("VerifyUserRefreshToken() = %+v", claims)
	}

	clock.Advance(25 * time.Hour)
	if _, err := c.VerifyUserRefreshToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired refresh token error = %v, want ErrTokenInvalid", err)
	}
}

func TestCodec_DeviceToken(t *testing.T) {
	clock := newTestClock()
	c := newTestCodec(t, clock)

	token, err := c.IssueDeviceAccessToken(3)
	if err != nil {
		t.Fatalf("IssueDeviceAccessToken() error = %v", err)
	}
	id, err := c.VerifyDeviceAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyDeviceAccessToken() error = %v", err)
	}
	if id != 3 {
		t.Errorf("VerifyDeviceAccessToken() = %d, want 3", id)
	}

	clock.Advance(DeviceAccessTokenTTL)
	if _, err := c.VerifyDeviceAccessToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expired device token error = %v, want ErrTokenInvalid", err)
	}
}

func TestCodec_AudiencesAreNotInterchangeable(t *testing.T) {
	c := newTestCodec(t, newTestClock())

	device, _ := c.IssueDeviceAccessToken(1)
	user, _ := c.IssueUserAccessToken(1, RoleOrgUser)
	refresh, _ := c.IssueUserRefreshToken(1, "jti", time.Now().Add(time.Hour))

	if _, err := c.VerifyUserAccessToken(device); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("device token accepted as user access token: %v", err)
	}
	if _, err := c.VerifyUserRefreshToken(device); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("device token accepted as refresh token: %v", err)
	}
	if _, err := c.VerifyDeviceAccessToken(user); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("user token accepted as device token: %v", err)
	}
	if _, err := c.VerifyUserAccessToken(refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh token accepted as access token: %v", err)
	}
	if _, err := c.VerifyUserRefreshToken(user); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("access token accepted as refresh token: %v", err)
	}
}

func TestCodec_RejectsForeignTokens(t *testing.T) {
	clock := newTestClock()
	c := newTestCodec(t, clock)
	exp := jwt.NewNumericDate(clock.Now().Add(time.Minute))

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "5",
			Audience:  jwt.ClaimStrings{AudienceDevice},
			ExpiresAt: exp,
		}
	}

	wrongIssuer := base()
	wrongIssuer.Issuer = "someone-else"
	noExpiry := base()
	noExpiry.ExpiresAt = nil
	badSubject := base()
	badSubject.Subject = "gateway-5"
	zeroSubject := base()
	zeroSubject.Subject = "0"

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
		{name: "wrong secret", token: sign(jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), base())},
		{name: "wrong algorithm", token: sign(jwt.SigningMethodHS512, []byte(testSecret), base())},
		{name: "none algorithm", token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, base())},
		{name: "wrong issuer", token: sign(jwt.SigningMethodHS256, []byte(testSecret), wrongIssuer)},
		{name: "missing expiry", token: sign(jwt.SigningMethodHS256, []byte(testSecret), noExpiry)},
		{name: "non-numeric subject", token: sign(jwt.SigningMethodHS256, []byte(testSecret), badSubject)},
		{name: "zero subject", token: sign(jwt.SigningMethodHS256, []byte(testSecret), zeroSubject)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.VerifyDeviceAccessToken(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("VerifyDeviceAccessToken() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}
