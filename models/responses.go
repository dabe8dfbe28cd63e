package models

// Codes a biometric endpoint may answer with. Older server versions send
// the same values in a `status` field instead of `code`.
const (
	CodeSuccess                = "success"
	CodeVerified               = "verified"
	CodeSignatureInvalid       = "signature_invalid"
	CodeSignatureNotRegistered = "signature_not_registered"
	CodeEmbeddingMismatch      = "embedding_mismatch"
	CodeFaceMismatch           = "face_mismatch"
	CodeError                  = "error"
)

// ServerResponse is the common response envelope of the enrollment server.
type ServerResponse struct {
	Code    string `json:"code,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

// EffectiveCode folds the legacy status field into the code field.
func (r ServerResponse) EffectiveCode() string {
	if r.Code != "" {
		return r.Code
	}
	return r.Status
}

// EnrollStartResponse opens an enrollment session: the challenge is the
// nonce the device must sign during registration.
type EnrollStartResponse struct {
	SessionId string `json:"session_id"`
	Challenge string `json:"challenge"`
}
