package models

// RegistrationRequest is the body of both registration and recovery calls.
// Signatures and keys are base64; DeviceSignature is the hex SHA-256 of the
// signed payload.
type RegistrationRequest struct {
	Embedding          []float64 `json:"embedding"`
	BiometricSignature string    `json:"biometricSignature"`
	BiometricPublicKey string    `json:"biometricPublicKey"`
	SignedPayload      string    `json:"signedPayload"`
	DeviceSignature    string    `json:"deviceSignature"`
}

// ChallengeVerificationRequest proves possession of the enrolled key by
// signing a server-issued challenge. SignedPayload carries the challenge
// text itself.
type ChallengeVerificationRequest struct {
	BiometricSignature string `json:"biometricSignature"`
	BiometricPublicKey string `json:"biometricPublicKey"`
	SignedPayload      string `json:"signedPayload"`
	DeviceSignature    string `json:"deviceSignature"`
}
