package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestHMACVerifier(t *testing.T) {
	v := HMACVerifier{Secret: []byte("s3cret")}
	good := sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "email": "a@b.c", "email_verified": true, "exp": time.Now().Add(time.Hour).Unix()})

	id, err := v.Verify(context.Background(), good)
	if err != nil || id.UID != "u1" || id.Email != "a@b.c" || !id.EmailVerified {
		t.Fatalf("unexpected id=%+v err=%v", id, err)
	}
	unverified := sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "email": "a@b.c", "exp": time.Now().Add(time.Hour).Unix()})
	if id, err := v.Verify(context.Background(), unverified); err != nil || id.EmailVerified {
		t.Fatalf("missing email_verified must read as false, got id=%+v err=%v", id, err)
	}

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}),
		"expired":      sign(t, "s3cret", jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no exp":       sign(t, "s3cret", jwt.MapClaims{"sub": "u1"}),
		"no sub":       sign(t, "s3cret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}),
		"garbage":      "not.a.jwt",
	}
	for name, tok := range cases {
		if _, err := v.Verify(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

type fakeIDTokens struct {
	uid string
	err error
}

func (f fakeIDTokens) VerifyIDToken(_ context.Context, _ string) (*fbauth.Token, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fbauth.Token{UID: f.uid, Claims: map[string]interface{}{"email": "x@y.z", "email_verified": true}}, nil
}

func TestFirebaseVerifier(t *testing.T) {
	v := &FirebaseVerifier{client: fakeIDTokens{uid: "fb-1"}}
	id, err := v.Verify(context.Background(), "tok")
	if err != nil || id.UID != "fb-1" || id.Email != "x@y.z" || !id.EmailVerified {
		t.Fatalf("unexpected id=%+v err=%v", id, err)
	}
	v = &FirebaseVerifier{client: fakeIDTokens{err: errors.New("expired")}}
	if _, err := v.Verify(context.Background(), "tok"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(Insecure{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized || !strings.Contains(rr.Body.String(), `"code":"unauthorized"`) {
		t.Fatalf("expected 401 envelope, got %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer alice")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || seen != "alice" {
		t.Fatalf("expected pass-through for alice, got %d seen=%q", rr.Code, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/live/ws?access_token=bob", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "bob" {
		t.Fatalf("expected query token accepted, seen=%q", seen)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := Middleware(HMACVerifier{Secret: []byte("k")})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestValidUID(t *testing.T) {
	for _, uid := range []string{"u1", "bob.smith", "bob@x", "a_b", "Zk3q9-xYz", strings.Repeat("a", MaxUIDLength)} {
		if !ValidUID(uid) {
			t.Fatalf("expected %q to be accepted", uid)
		}
	}
	for _, uid := range []string{"", "a/b", "a b", "tab\tuid", "nl\n", "\x00", strings.Repeat("a", MaxUIDLength+1), string([]byte{0xff, 0xfe})} {
		if ValidUID(uid) {
			t.Fatalf("expected %q to be rejected", uid)
		}
	}
}

func TestMiddleware_RejectsUnsupportedUID(t *testing.T) {
	h := Middleware(HMACVerifier{Secret: []byte("k")})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run")
	}))
	tok := sign(t, "k", jwt.MapClaims{"sub": "conversations/x", "exp": time.Now().Add(time.Hour).Unix()})
	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
