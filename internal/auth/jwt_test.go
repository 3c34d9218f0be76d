package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-with-enough-length"

func TestGenerateToken(t *testing.T) {
	manager := NewJWTManager(testSecret, 2*time.Hour)

	tests := []struct {
		name     string
		userID   int64
		username string
		role     string
		wantErr  bool
	}{
		{"admin", 1, "matron", RoleAdmin, false},
		{"staff", 42, "carer@example.com", RoleStaff, false},
		{"unknown role", 7, "someone", "owner", true},
		{"missing user id", 0, "ghost", RoleStaff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := manager.GenerateToken(tt.userID, tt.username, tt.role)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			claims, err := manager.ValidateToken(token)
			if err != nil {
				t.Fatalf("Failed to validate token: %v", err)
			}
			if claims.UserID != tt.userID || claims.Username != tt.username || claims.Role != tt.role {
				t.Errorf("Unexpected claims %+v", claims)
			}
			if claims.IsAdmin() != (tt.role == RoleAdmin) {
				t.Errorf("IsAdmin() = %v for role %s", claims.IsAdmin(), tt.role)
			}
		})
	}
}

func TestValidateToken_Rejects(t *testing.T) {
	manager := NewJWTManager(testSecret, time.Hour)
	valid, err := manager.GenerateToken(1, "matron", RoleAdmin)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	otherKey, _ := NewJWTManager("a-different-secret-of-some-length", time.Hour).GenerateToken(1, "matron", RoleAdmin)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1, Role: RoleAdmin})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	hs512 := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: 1,
		Role:   RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	wrongAlg, _ := hs512.SignedString([]byte(testSecret))

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1,
		Role:   "owner",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignRole, _ := badRole.SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"tampered", valid[:len(valid)-2] + "xx"},
		{"other key", otherKey},
		{"alg none", unsigned},
		{"wrong algorithm", wrongAlg},
		{"unknown role", foreignRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := manager.ValidateToken(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestValidateToken_Expired(t *testing.T) {
	manager := NewJWTManager(testSecret, time.Hour)
	issued := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return issued }

	token, err := manager.GenerateToken(1, "matron", RoleStaff)
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}

	manager.now = func() time.Time { return issued.Add(59 * time.Minute) }
	if _, err := manager.ValidateToken(token); err != nil {
		t.Errorf("Expected token to be valid before expiry, got %v", err)
	}

	manager.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := manager.ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}
