package xar

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/mackyle/xar/internal/checksum"
	"github.com/mackyle/xar/internal/heap"
	"github.com/mackyle/xar/internal/toc"
)

// signatureStyle is recorded for PKCS#1 v1.5 RSA signatures.
const signatureStyle = "RSA"

// Signature is a signature recorded in an archive. It signs the stored
// digest of the compressed TOC, which covers every member digest.
type Signature struct {
	// Style names the signature scheme, usually "RSA".
	Style string

	// Certificates identify the signer, leaf first. May be empty.
	Certificates []*x509.Certificate

	// Value is the raw signature.
	Value []byte

	// SignedData is the TOC digest the signature covers.
	SignedData []byte

	hash crypto.Hash
}

// Verify checks Value against SignedData with the public key of the leaf
// certificate. It does not validate the chain; use x509.Certificate.Verify
// with the caller's roots for that. Failures wrap ErrInvalidSignature.
func (s Signature) Verify() error {
	if len(s.Certificates) == 0 {
		return fmt.Errorf("%w: no certificate recorded", ErrInvalidSignature)
	}
	if s.Style != signatureStyle {
		return fmt.Errorf("%w: unsupported style %q", ErrInvalidSignature, s.Style)
	}
	pub, ok := s.Certificates[0].PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: certificate key is %T, not RSA", ErrInvalidSignature, s.Certificates[0].PublicKey)
	}
	if s.hash == 0 {
		return fmt.Errorf("%w: archive digest cannot be signed", ErrInvalidSignature)
	}
	if err := rsa.VerifyPKCS1v15(pub, s.hash, s.SignedData, s.Value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

func (s Signature) clone() Signature {
	s.Certificates = append([]*x509.Certificate(nil), s.Certificates...)
	s.Value = bytes.Clone(s.Value)
	s.SignedData = bytes.Clone(s.SignedData)
	return s
}

// Signatures returns the signatures recorded in the archive, in TOC order.
// An unsigned archive returns an empty slice. Use Signature.Verify to check
// each one.
func (r *Reader) Signatures() ([]Signature, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]Signature, 0, len(r.signatures))
	for _, s := range r.signatures {
		out = append(out, s.clone())
	}
	return out, nil
}

// readSignatures loads the signature values from the heap and parses the
// recorded certificates. signed is the stored TOC digest.
func readSignatures(hr *heap.Reader, t *toc.TOC, signed []byte) ([]Signature, error) {
	if len(t.Signatures) == 0 {
		return nil, nil
	}
	if len(signed) == 0 {
		return nil, errors.New("signature without toc checksum")
	}
	hash, _ := t.Checksum.CryptoHash()

	sigs := make([]Signature, 0, len(t.Signatures))
	for i, ts := range t.Signatures {
		value, err := hr.Read(ts.Offset, ts.Size)
		if err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
		sig := Signature{
			Style:      ts.Style,
			Value:      value,
			SignedData: signed,
			hash:       hash,
		}
		for _, der := range ts.Certificates {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("signature %d certificate: %w", i, err)
			}
			sig.Certificates = append(sig.Certificates, cert)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// signer is a key configured with WithSigner.
type signer struct {
	key   crypto.Signer
	certs []*x509.Certificate
}

// planSignatures validates the configured signers and lays out their
// spans directly after the TOC digest.
func planSignatures(signers []signer, alg checksum.Algorithm) ([]toc.Signature, error) {
	if len(signers) == 0 {
		return nil, nil
	}
	if _, ok := alg.CryptoHash(); !ok {
		return nil, fmt.Errorf("%s digests cannot be signed", alg)
	}

	offset := uint64(alg.Size()) //nolint:gosec // digest sizes are small positive constants
	plan := make([]toc.Signature, 0, len(signers))
	for i, s := range signers {
		if s.key == nil {
			return nil, fmt.Errorf("signer %d: nil key", i)
		}
		pub, ok := s.key.Public().(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("signer %d: unsupported key %T", i, s.key.Public())
		}
		ts := toc.Signature{Style: signatureStyle, Offset: offset, Size: uint64(pub.Size())} //nolint:gosec // modulus sizes are positive
		for _, c := range s.certs {
			if c == nil {
				return nil, fmt.Errorf("signer %d: nil certificate", i)
			}
			ts.Certificates = append(ts.Certificates, c.Raw)
		}
		plan = append(plan, ts)
		offset += ts.Size
	}
	return plan, nil
}

// reservedHeap returns the heap prefix taken by the TOC digest and the
// planned signatures.
func reservedHeap(alg checksum.Algorithm, plan []toc.Signature) uint64 {
	if n := len(plan); n > 0 {
		return plan[n-1].Offset + plan[n-1].Size
	}
	return uint64(alg.Size()) //nolint:gosec // digest sizes are small positive constants
}

// sign signs the TOC digest with every signer, in plan order.
func sign(signers []signer, plan []toc.Signature, sum checksum.Checksum) ([][]byte, error) {
	hash, ok := sum.Algorithm.CryptoHash()
	if !ok && len(signers) > 0 {
		return nil, fmt.Errorf("%s digests cannot be signed", sum.Algorithm)
	}
	values := make([][]byte, 0, len(signers))
	for i, s := range signers {
		v, err := s.key.Sign(rand.Reader, sum.Sum, hash)
		if err != nil {
			return nil, fmt.Errorf("sign toc: %w", err)
		}
		if uint64(len(v)) != plan[i].Size {
			return nil, fmt.Errorf("sign toc: signature is %d bytes, reserved %d", len(v), plan[i].Size)
		}
		values = append(values, v)
	}
	return values, nil
}
