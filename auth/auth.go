package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

func New(apiKeyToUserName map[string]string, next http.Handler) *Auth {
	return &Auth{
		Next:             next,
		APIKeyToUserName: apiKeyToUserName,
	}
}

type Auth struct {
	Next             http.Handler
	APIKeyToUserName map[string]string
}

// LoadFromFile reads a map of API keys to user names. The file can be JSON
// or YAML.
func LoadFromFile(name string) (apiKeyToUserName map[string]string, err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m := make(map[string]string)
	if err = yaml.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("auth: failed to decode %s: %w", name, err)
	}
	for k := range m {
		if k == "" {
			return nil, fmt.Errorf("auth: %s contains an empty API key", name)
		}
	}
	return m, nil
}

type userContextKey int

const userKey userContextKey = 0

func GetUser(r *http.Request) (user string, ok bool) {
	user, ok = r.Context().Value(userKey).(string)
	return
}

func (a *Auth) lookup(key string) (user string, ok bool) {
	if key == "" {
		return "", false
	}
	// Compare against every key so the time taken doesn't depend on which
	// key matched.
	for k, u := range a.APIKeyToUserName {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			user, ok = u, true
		}
	}
	return user, ok
}

func (a *Auth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, ok := a.lookup(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r = r.WithContext(context.WithValue(r.Context(), userKey, user))
	a.Next.ServeHTTP(w, r)
}
