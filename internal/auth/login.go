package auth

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the body of POST /api/auth/token
type LoginRequest struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
}

// LoginResponse carries the issued token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Tenant    string    `json:"tenant"`
}

// Login checks the client secret against its bcrypt hash and issues a token
func (a *Authenticator) Login(clientID, secret string) (*LoginResponse, error) {
	client, ok := a.clients[clientID]
	if !ok || client.SecretHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := a.GenerateToken(clientID)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{Token: token, ExpiresAt: expires, Tenant: client.Tenant}, nil
}

// LoginHandler exchanges gateway client credentials for a JWT
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ClientID == "" || req.Secret == "" {
		writeError(w, http.StatusBadRequest, "client_id and secret are required")
		return
	}

	resp, err := a.Login(req.ClientID, req.Secret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HashSecret returns the bcrypt hash to put in the client config
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
