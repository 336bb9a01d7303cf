package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

// Signer issues tokens for the dev token endpoint and for tests. It is
// the counterpart of the validator: anything it signs with a key present
// in its JWKS must validate.
type Signer struct {
	iss        string
	kid        string
	privateKey crypto.PrivateKey
}

func NewSigner(issuer, kid string, private crypto.PrivateKey) *Signer {
	return &Signer{
		iss:        issuer,
		kid:        kid,
		privateKey: private,
	}
}

// GenerateToken signs the given public and private claims. The issuer
// claim is forced to the signer's configured issuer.
func (j *Signer) GenerateToken(claims *jwt.Claims, privateClaims interface{}) (string, error) {
	alg, err := j.algorithm()
	if err != nil {
		return "", err
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: alg,
			Key:       jose.JSONWebKey{Key: j.privateKey, KeyID: j.kid},
		},
		nil,
	)
	if err != nil {
		return "", err
	}

	// claims are applied in reverse precedence
	return jwt.Signed(signer).
		Claims(privateClaims).
		Claims(claims).
		Claims(&jwt.Claims{
			Issuer: j.iss,
		}).
		CompactSerialize()
}

// Claims builds standard claims for a token with the given lifetime.
func Claims(subject string, audience []string, expirationSeconds int64) *jwt.Claims {
	now := time.Now()
	return &jwt.Claims{
		Subject:   subject,
		Audience:  jwt.Audience(audience),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(time.Duration(expirationSeconds) * time.Second)),
	}
}

// KeySet returns the public JWKS for the signer's key, served by the dev
// /auth/jwks endpoint.
func (j *Signer) KeySet() (*jose.JSONWebKeySet, error) {
	public, err := j.publicKey()
	if err != nil {
		return nil, err
	}
	alg, err := j.algorithm()
	if err != nil {
		return nil, err
	}
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       public,
			KeyID:     j.kid,
			Algorithm: string(alg),
			Use:       "sig",
		}},
	}, nil
}

func (j *Signer) publicKey() (crypto.PublicKey, error) {
	switch key := j.privateKey.(type) {
	case *rsa.PrivateKey:
		return &key.PublicKey, nil
	case *ecdsa.PrivateKey:
		return &key.PublicKey, nil
	default:
		return nil, fmt.Errorf("unknown private key type %T, must be *rsa.PrivateKey or *ecdsa.PrivateKey", j.privateKey)
	}
}

func (j *Signer) algorithm() (jose.SignatureAlgorithm, error) {
	switch privateKey := j.privateKey.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		switch privateKey.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("unknown private key curve, must be 256, 384, or 521")
		}
	default:
		return "", fmt.Errorf("unknown private key type %T, must be *rsa.PrivateKey or *ecdsa.PrivateKey", j.privateKey)
	}
}
