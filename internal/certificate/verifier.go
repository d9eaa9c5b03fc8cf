package certificate

import (
	"crypto"
	"fmt"
)

// VerificationResult is the outcome of checking a chain or a single
// certificate. Position is 1-based and only set on failure.
type VerificationResult struct {
	Status        Status `json:"status"`
	Position      int    `json:"position,omitempty"`
	CertificateID string `json:"certificate_id,omitempty"`
	Checked       int    `json:"checked"`
	Unlinked      bool   `json:"unlinked,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

func (r VerificationResult) Valid() bool { return r.Status == StatusValid }

// Err returns nil for a valid result and a *VerificationError otherwise.
func (r VerificationResult) Err() error {
	if r.Valid() {
		return nil
	}
	return &VerificationError{Status: r.Status, Position: r.Position, CertificateID: r.CertificateID, Detail: r.Detail}
}

// Verify walks certs from genesis to tip. Each certificate is checked for
// payload integrity, then signature, then its link to the predecessor; the
// first failure ends the walk. certs is never modified.
func Verify(certs []*Certificate, pub crypto.PublicKey) VerificationResult {
	prev := ZeroHash
	for i, cert := range certs {
		pos := i + 1
		if status, detail := checkCertificate(cert, pub); status != StatusValid {
			return failed(status, pos, cert, i, detail)
		}
		if cert.PreviousHash != prev {
			return failed(StatusBrokenLink, pos, cert, i,
				fmt.Sprintf("previous hash %s, expected %s", cert.PreviousHash, prev))
		}
		prev = cert.PayloadHash
	}
	res := VerificationResult{Status: StatusValid, Checked: len(certs)}
	verifications.WithLabelValues("chain", string(res.Status)).Inc()
	return res
}

// VerifySingle checks one certificate without its chain context. The link
// to the predecessor is not checked and the result is marked Unlinked.
func VerifySingle(cert *Certificate, pub crypto.PublicKey) VerificationResult {
	res := VerificationResult{Status: StatusValid, Checked: 1, Unlinked: true}
	if status, detail := checkCertificate(cert, pub); status != StatusValid {
		res.Status, res.Position, res.Detail, res.Checked = status, 1, detail, 0
		if cert != nil {
			res.CertificateID = cert.ID
		}
	}
	verifications.WithLabelValues("single", string(res.Status)).Inc()
	return res
}

func failed(status Status, pos int, cert *Certificate, checked int, detail string) VerificationResult {
	verifications.WithLabelValues("chain", string(status)).Inc()
	res := VerificationResult{Status: status, Position: pos, Checked: checked, Detail: detail}
	if cert != nil {
		res.CertificateID = cert.ID
	}
	return res
}

func checkCertificate(cert *Certificate, pub crypto.PublicKey) (Status, string) {
	if cert == nil {
		return StatusPayloadTampered, "missing certificate"
	}
	if got := HashPayload(cert.Payload); got != cert.PayloadHash {
		return StatusPayloadTampered, fmt.Sprintf("payload hash %s, recorded %s", got, cert.PayloadHash)
	}
	if want := DeriveID(cert.PayloadHash); cert.ID != want {
		return StatusPayloadTampered, fmt.Sprintf("id %s does not derive from payload hash, expected %s", cert.ID, want)
	}
	p, err := DecodePayload(cert.Payload)
	if err != nil {
		return StatusPayloadTampered, err.Error()
	}
	var derived Certificate
	derived.ID = cert.ID
	derived.fill(p)
	if derived.view() != cert.view() {
		return StatusPayloadTampered, "structured fields differ from the signed payload"
	}

	if pub == nil {
		return StatusSignatureInvalid, "no public key"
	}
	if !VerifySignature(cert.SignatureAlgorithm, pub, SigningDigest(cert.Payload, cert.PreviousHash), cert.Signature) {
		return StatusSignatureInvalid, fmt.Sprintf("%s signature does not verify", cert.SignatureAlgorithm)
	}
	return StatusValid, ""
}
