package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"go-face-enroll/embedding"
	"go-face-enroll/models"
	"go-face-enroll/signing"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_CHALLENGE_RETRIEVAL = "failed to get challenge from storage"
const ERR_CHALLENGE_REMOVAL = "failed to remove challenge from storage"
const ERR_INVALID_CHALLENGE = "invalid or expired challenge"
const ERR_INVALID_DIGEST = "payload digest mismatch"
const ERR_EMPTY_EMBEDDING = "embedding must not be empty"
const ERR_JWT_CREATION = "failed to create jwt"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	challenges          ChallengeStorage
	enrollments         EnrollmentStorage
	jwtCreator          JwtCreator
	similarityThreshold float64
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/enroll-start", func(w http.ResponseWriter, r *http.Request) {
		handleEnrollStart(state, w, r)
	})
	router.HandleFunc("/api/register", func(w http.ResponseWriter, r *http.Request) {
		handleRegister(state, w, r)
	})
	router.HandleFunc("/api/recover", func(w http.ResponseWriter, r *http.Request) {
		handleRecover(state, w, r)
	})
	router.HandleFunc("/api/verify-challenge", func(w http.ResponseWriter, r *http.Request) {
		handleVerifyChallenge(state, w, r)
	})

	slog.Debug("Registered all API routes")

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler:      router,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

func handleEnrollStart(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start enrollment")

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	challenge, err := GenerateNonce(16)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate challenge", err)
		return
	}

	if err := state.challenges.StoreChallenge(challenge, sessionId); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store challenge", err)
		return
	}

	response := models.EnrollStartResponse{
		SessionId: sessionId,
		Challenge: challenge,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Enrollment session started", "session_id", sessionId)
}

func handleRegister(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received registration request")

	var request models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode registration request", err)
		return
	}
	if len(request.Embedding) == 0 {
		respondWithErr(w, http.StatusBadRequest, ERR_EMPTY_EMBEDDING, ERR_EMPTY_EMBEDDING, nil)
		return
	}

	// Key-less registration stores the embedding alone; verification for
	// these enrollments relies purely on similarity.
	if request.BiometricPublicKey == "" {
		fingerprint := uuid.NewString()
		if err := storeEnrollment(state, fingerprint, request, w); err != nil {
			return
		}
		slog.Info("Unsigned enrollment registered", "fingerprint", fingerprint)
		respondWithCode(w, models.CodeSuccess, "enrolled without device key")
		return
	}

	challenge, ok := consumeSignedChallenge(state, w, request.SignedPayload, request.DeviceSignature, true)
	if !ok {
		return
	}

	if err := signing.VerifySignature(request.BiometricPublicKey, challenge, request.BiometricSignature); err != nil {
		slog.Warn("Registration signature invalid", "error", err)
		respondWithCode(w, models.CodeSignatureInvalid, "challenge signature does not verify")
		return
	}

	fingerprint, err := signing.Fingerprint(request.BiometricPublicKey)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to fingerprint public key", err)
		return
	}

	if err := storeEnrollment(state, fingerprint, request, w); err != nil {
		return
	}
	removeChallenge(state, challenge)

	slog.Info("Enrollment registered", "fingerprint", fingerprint)
	respondWithCode(w, models.CodeSuccess, "")
}

func handleRecover(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received recovery request")

	var request models.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode recovery request", err)
		return
	}
	if len(request.Embedding) == 0 {
		respondWithErr(w, http.StatusBadRequest, ERR_EMPTY_EMBEDDING, ERR_EMPTY_EMBEDDING, nil)
		return
	}
	if request.BiometricPublicKey == "" {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "recovery requires a new public key", nil)
		return
	}

	challenge, ok := consumeSignedChallenge(state, w, request.SignedPayload, request.DeviceSignature, true)
	if !ok {
		return
	}

	if err := signing.VerifySignature(request.BiometricPublicKey, challenge, request.BiometricSignature); err != nil {
		slog.Warn("Recovery signature invalid", "error", err)
		respondWithCode(w, models.CodeSignatureInvalid, "challenge signature does not verify")
		return
	}

	oldFingerprint, score, found, err := findBestMatch(state, request.Embedding)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to scan enrollments", err)
		return
	}
	if !found || score < state.similarityThreshold {
		slog.Warn("Recovery face does not match any enrollment", "best_score", score, "threshold", state.similarityThreshold)
		respondWithCode(w, models.CodeEmbeddingMismatch, fmt.Sprintf("similarity %.3f below threshold", score))
		return
	}

	newFingerprint, err := signing.Fingerprint(request.BiometricPublicKey)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to fingerprint public key", err)
		return
	}

	// Rebind: the old key is gone for good, the proven face carries the
	// enrollment over to the new key.
	if err := state.enrollments.RemoveEnrollment(oldFingerprint); err != nil {
		slog.Warn("Failed to remove superseded enrollment", "fingerprint", oldFingerprint, "error", err)
	}
	if err := storeEnrollment(state, newFingerprint, request, w); err != nil {
		return
	}
	removeChallenge(state, challenge)

	slog.Info("Enrollment recovered to new key", "old_fingerprint", oldFingerprint, "new_fingerprint", newFingerprint, "score", score)
	respondWithCode(w, models.CodeSuccess, "")
}

func handleVerifyChallenge(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received challenge verification request")

	var request models.ChallengeVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode challenge verification request", err)
		return
	}
	if request.BiometricPublicKey == "" {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "challenge verification requires a public key", nil)
		return
	}

	// The challenge travels in clear here, not base64 wrapped.
	challenge, ok := consumeSignedChallenge(state, w, request.SignedPayload, request.DeviceSignature, false)
	if !ok {
		return
	}

	fingerprint, err := signing.Fingerprint(request.BiometricPublicKey)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to fingerprint public key", err)
		return
	}

	if _, err := state.enrollments.RetrieveEnrollment(fingerprint); err != nil {
		slog.Warn("Challenge verification for unknown key", "fingerprint", fingerprint)
		respondWithCode(w, models.CodeSignatureNotRegistered, "no enrollment for this key")
		return
	}

	if err := signing.VerifySignature(request.BiometricPublicKey, challenge, request.BiometricSignature); err != nil {
		slog.Warn("Challenge signature invalid", "fingerprint", fingerprint, "error", err)
		respondWithCode(w, models.CodeSignatureInvalid, "challenge signature does not verify")
		return
	}

	token, err := state.jwtCreator.CreateAttestationJwt(fingerprint)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_JWT_CREATION, ERR_JWT_CREATION, err)
		return
	}
	removeChallenge(state, challenge)

	response := models.ServerResponse{
		Code:  models.CodeVerified,
		Token: token,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Challenge verified", "fingerprint", fingerprint)
}

// consumeSignedChallenge validates the payload digest and looks the
// challenge up in storage. For registration the payload is the base64
// wrapped challenge; for challenge verification it is the challenge
// itself.
func consumeSignedChallenge(state *ServerState, w http.ResponseWriter, signedPayload, deviceSignature string, base64Wrapped bool) (string, bool) {
	if signedPayload == "" {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "missing signed payload", nil)
		return "", false
	}

	digest := sha256.Sum256([]byte(signedPayload))
	if hex.EncodeToString(digest[:]) != deviceSignature {
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_DIGEST, ERR_INVALID_DIGEST, nil)
		return "", false
	}

	challenge := signedPayload
	if base64Wrapped {
		decoded, err := base64.StdEncoding.DecodeString(signedPayload)
		if err != nil {
			respondWithErr(w, http.StatusBadRequest, "invalid request", "signed payload is not base64", err)
			return "", false
		}
		challenge = string(decoded)
	}

	if _, err := state.challenges.RetrieveChallenge(challenge); err != nil {
		slog.Warn("Unknown or expired challenge presented")
		respondWithErr(w, http.StatusBadRequest, ERR_INVALID_CHALLENGE, ERR_CHALLENGE_RETRIEVAL, err)
		return "", false
	}
	return challenge, true
}

// storeEnrollment persists the request's biometric side and writes the
// error response itself on failure.
func storeEnrollment(state *ServerState, fingerprint string, request models.RegistrationRequest, w http.ResponseWriter) error {
	enrollment := StoredEnrollment{
		Embedding: request.Embedding,
		PublicKey: request.BiometricPublicKey,
		CreatedAt: time.Now().UTC(),
	}
	if err := state.enrollments.StoreEnrollment(fingerprint, enrollment); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store enrollment", err)
		return err
	}
	return nil
}

// findBestMatch scans all enrollments for the highest cosine similarity
// against the candidate embedding.
func findBestMatch(state *ServerState, candidate []float64) (fingerprint string, score float64, found bool, err error) {
	enrollments, err := state.enrollments.AllEnrollments()
	if err != nil {
		return "", 0, false, err
	}

	best := -2.0
	for fp, enrollment := range enrollments {
		s, err := embedding.Cosine(embedding.Vector(candidate), embedding.Vector(enrollment.Embedding))
		if err != nil {
			slog.Debug("Skipping incomparable enrollment", "fingerprint", fp, "error", err)
			continue
		}
		if s > best {
			best = s
			fingerprint = fp
			found = true
		}
	}
	return fingerprint, best, found, nil
}

// removeChallenge consumes a challenge after successful use and only logs
// on failure; the response has already been decided at that point.
func removeChallenge(state *ServerState, challenge string) {
	slog.Debug("Removing consumed challenge")
	if err := state.challenges.RemoveChallenge(challenge); err != nil {
		slog.Error(ERR_CHALLENGE_REMOVAL, "error", err)
	}
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	hexId := fmt.Sprintf("%x", sessionId)
	slog.Debug("Session ID generated successfully", "session_id", hexId)
	return hexId
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	hexString := hex.EncodeToString(nonce)
	slog.Debug("Nonce generated successfully", "length", i)
	return hexString, nil
}

// respondWithCode answers a classified biometric outcome; these always go
// out with HTTP 200 and carry the verdict in the code field.
func respondWithCode(w http.ResponseWriter, code string, message string) {
	if err := writeJSON(w, http.StatusOK, models.ServerResponse{Code: code, Message: message}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
