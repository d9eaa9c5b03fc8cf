package reporting

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"wipecert/internal/certificate"
)

// RenderCertificate formats a certificate for people. Every value except the
// chain metadata is taken from the decoded payload, so the text always shows
// what was signed.
func RenderCertificate(cert *certificate.Certificate) (string, error) {
	p, err := cert.Decode()
	if err != nil {
		return "", err
	}
	var b strings.Builder

	b.WriteString("DATA SANITIZATION CERTIFICATE\n")
	b.WriteString(strings.Repeat("=", 72) + "\n")
	fmt.Fprintf(&b, "Certificate ID:   %s\n", cert.ID)
	fmt.Fprintf(&b, "Session:          %s\n", p.SessionID)
	fmt.Fprintf(&b, "Issued:           %s\n", stamp(p.IssuedAt))
	if p.Operator != "" {
		fmt.Fprintf(&b, "Operator:         %s\n", p.Operator)
	}
	if p.WorkstationID != "" {
		fmt.Fprintf(&b, "Workstation:      %s\n", p.WorkstationID)
	}
	if p.Organization != "" {
		fmt.Fprintf(&b, "Organization:     %s\n", p.Organization)
	}
	if p.Site != "" {
		fmt.Fprintf(&b, "Site:             %s\n", p.Site)
	}
	b.WriteString("\n")

	b.WriteString("DEVICE\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	d := p.Device
	fmt.Fprintf(&b, "Path:             %s\n", d.Path)
	fmt.Fprintf(&b, "Serial:           %s\n", orUnknown(d.Serial))
	fmt.Fprintf(&b, "Model:            %s\n", orUnknown(d.Model))
	fmt.Fprintf(&b, "Interface/media:  %s / %s\n", orUnknown(d.Interface), orUnknown(d.MediaType))
	fmt.Fprintf(&b, "Capacity:         %s (%d byte blocks)\n", formatBytes(int64(p.Capacity)), p.BlockSize)
	b.WriteString("\n")

	b.WriteString("SANITIZATION\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	if p.Standard != "" {
		fmt.Fprintf(&b, "Standard:         %s\n", p.Standard)
	}
	if p.Policy.Level != "" {
		fmt.Fprintf(&b, "Level:            %s\n", p.Policy.Level)
	}
	passes := make([]string, len(p.Policy.Passes))
	for i, pass := range p.Policy.Passes {
		passes[i] = pass.Pattern
		if pass.HasSeed != 0 {
			passes[i] = fmt.Sprintf("%s:%d", pass.Pattern, pass.Seed)
		}
	}
	fmt.Fprintf(&b, "Passes:           %s\n", strings.Join(passes, ", "))
	verification := p.Policy.VerifyMode
	if verification == "sampled" {
		verification = fmt.Sprintf("sampled (%.1f%%)", p.Policy.Fraction()*100)
	}
	fmt.Fprintf(&b, "Verification:     %s\n", verification)
	fmt.Fprintf(&b, "Result:           %s\n", strings.ToUpper(p.Status))
	if p.Incomplete != 0 {
		b.WriteString("                  INCOMPLETE - device must not be treated as sanitized\n")
	}
	fmt.Fprintf(&b, "Passes completed: %d of %d\n", p.PassesCompleted, p.TotalPasses)
	fmt.Fprintf(&b, "Bytes written:    %s\n", formatBytes(int64(p.BytesProcessed)))
	fmt.Fprintf(&b, "Started:          %s\n", stamp(p.StartedAt))
	fmt.Fprintf(&b, "Ended:            %s\n", stamp(p.EndedAt))
	if p.BlocksRetried > 0 {
		fmt.Fprintf(&b, "Blocks retried:   %d\n", p.BlocksRetried)
	}
	if len(p.VerificationDigest) > 0 {
		fmt.Fprintf(&b, "Blocks verified:  %d\n", p.BlocksVerified)
		fmt.Fprintf(&b, "Verify digest:    %s\n", hex.EncodeToString(p.VerificationDigest))
	}
	if p.Failure.Kind != "" {
		fmt.Fprintf(&b, "Failure:          %s in pass %d at offset %d\n", p.Failure.Kind, p.Failure.Pass, p.Failure.Offset)
		fmt.Fprintf(&b, "                  %s\n", p.Failure.Message)
	}
	for _, t := range p.Temperatures {
		fmt.Fprintf(&b, "Temperature:      pass %d %.1f C\n", t.Pass, float64(t.MilliCelsius)/1000)
	}
	b.WriteString("\n")

	b.WriteString("CHAIN\n")
	b.WriteString(strings.Repeat("-", 50) + "\n")
	fmt.Fprintf(&b, "Payload hash:     %s\n", cert.PayloadHash)
	fmt.Fprintf(&b, "Previous hash:    %s\n", cert.PreviousHash)
	fmt.Fprintf(&b, "Signature:        %s\n", cert.SignatureAlgorithm)
	if cert.VerificationReference != "" {
		fmt.Fprintf(&b, "Verify at:        %s\n", cert.VerificationReference)
	}
	return b.String(), nil
}

func stamp(unixNano int64) string {
	return time.Unix(0, unixNano).UTC().Format(time.RFC3339)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
