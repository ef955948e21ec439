package gift

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

const claimAuthDomainV0 = "hbc/claim/v0"

// ClaimSignBytes builds the paylink gate message for one (gift, claimant)
// pair:
//
//	signBytes = DOMAIN || 0x00 || LE64(giftId) || 0x00 || claimant
//
// Whoever holds the gift's auth private key signs these bytes out-of-band to
// make claimant eligible.
func ClaimSignBytes(giftID uint64, claimant string) []byte {
	out := make([]byte, 0, len(claimAuthDomainV0)+1+8+1+len(claimant))
	out = append(out, []byte(claimAuthDomainV0)...)
	out = append(out, 0)
	out = binary.LittleEndian.AppendUint64(out, giftID)
	out = append(out, 0)
	out = append(out, []byte(claimant)...)
	return out
}

// KeylessCommitment binds a public key to an account credential: sha3-256
// over a uvarint length prefix followed by the raw key bytes.
func KeylessCommitment(pub []byte) []byte {
	buf := binary.AppendUvarint(make([]byte, 0, len(pub)+binary.MaxVarintLen64), uint64(len(pub)))
	buf = append(buf, pub...)
	sum := sha3.Sum256(buf)
	return sum[:]
}

// authorize evaluates both optional gates before any state mutation.
func (g *Gift) authorize(claimant string, auth ClaimAuth) error {
	if len(g.AuthPublicKey) == ed25519.PublicKeySize {
		if len(auth.Signature) != ed25519.SignatureSize {
			return ErrInvalidSignature
		}
		msg := ClaimSignBytes(g.ID, claimant)
		if !ed25519.Verify(ed25519.PublicKey(g.AuthPublicKey), msg, auth.Signature) {
			return ErrInvalidSignature
		}
	}
	if g.KeylessOnly {
		if len(auth.PublicKey) == 0 || len(auth.Credential) == 0 {
			return ErrInvalidCredential
		}
		if !bytes.Equal(KeylessCommitment(auth.PublicKey), auth.Credential) {
			return ErrInvalidCredential
		}
	}
	return nil
}
