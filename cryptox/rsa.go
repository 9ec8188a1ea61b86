package cryptox

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
)

// parseRSAPublic decodes a PKIX DER public key and checks it is RSA.
func parseRSAPublic(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse rsa public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptox: public key is %T, want rsa", pub)
	}
	return rsaPub, nil
}

// parseRSAPrivate decodes a PKCS#8 DER private key and checks it is RSA.
func parseRSAPrivate(der []byte) (*rsa.PrivateKey, error) {
	priv, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("cryptox: parse rsa private key: %w", err)
	}
	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("cryptox: private key is %T, want rsa", priv)
	}
	return rsaPriv, nil
}
