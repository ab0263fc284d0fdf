package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

// Request authentication headers. The signature covers
// RequestMessage(timestamp, method, path, body).
const (
	HeaderAddress   = "X-Wager-Address"
	HeaderTimestamp = "X-Wager-Timestamp"
	HeaderSignature = "X-Wager-Signature"
)

// Signer produces EIP-191 personal-sign signatures with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, with or
// without 0x prefix.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignMessage signs msg under the EIP-191 "\x19Ethereum Signed Message"
// prefix and returns the 65-byte signature as 0x-hex with v in {27,28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignRequest returns the authentication headers for an HTTP request.
func (s *Signer) SignRequest(method, path string, body []byte, at time.Time) (map[string]string, error) {
	ts := strconv.FormatInt(at.Unix(), 10)
	sig, err := s.SignMessage(RequestMessage(ts, method, path, body))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		HeaderAddress:   s.address.Hex(),
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}, nil
}

// RequestMessage is the byte string a request signature covers.
func RequestMessage(timestamp, method, path string, body []byte) []byte {
	msg := make([]byte, 0, len(timestamp)+len(method)+len(path)+len(body))
	msg = append(msg, timestamp...)
	msg = append(msg, strings.ToUpper(method)...)
	msg = append(msg, path...)
	msg = append(msg, body...)
	return msg
}

// RequestDigest identifies one signed request by its caller and signed
// message. It does not depend on the signature bytes, so a re-encoded
// signature over the same request yields the same digest.
func RequestDigest(caller common.Address, timestamp, method, path string, body []byte) common.Hash {
	return ethcrypto.Keccak256Hash(caller.Bytes(), RequestMessage(timestamp, method, path, body))
}

// RecoverAddress returns the address whose key produced sigHex over msg.
// Both v encodings, {0,1} and {27,28}, are accepted.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: signature is not hex", domain.ErrBadSignature)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			domain.ErrBadSignature, ethcrypto.SignatureLength, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sigHex over the request was made by claimed
// and that timestamp lies within maxSkew of now.
func VerifyRequest(claimed common.Address, timestamp, method, path string, body []byte, sigHex string, now time.Time, maxSkew time.Duration) error {
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp %q", domain.ErrBadSignature, timestamp)
	}
	if skew := now.Sub(time.Unix(secs, 0)); skew > maxSkew || skew < -maxSkew {
		return fmt.Errorf("%w: timestamp outside the allowed %s window", domain.ErrBadSignature, maxSkew)
	}
	signer, err := RecoverAddress(RequestMessage(timestamp, method, path, body), sigHex)
	if err != nil {
		return err
	}
	if signer != claimed {
		return fmt.Errorf("%w: signed by %s, not %s", domain.ErrBadSignature, signer.Hex(), claimed.Hex())
	}
	return nil
}
