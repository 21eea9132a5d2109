// Package sshkey manages the key pair authorized on the managed instance.
// The public key is injected at launch via cloud-config; the private key
// stays local and is used by health probes and diagnostics.
package sshkey

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	xssh "golang.org/x/crypto/ssh"
)

// KeyPair represents an SSH key pair on disk
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

const (
	privateKeyName = "gpuctl_key"
	publicKeyName  = "gpuctl_key.pub"
)

// PrivatePath returns where the private key lives under keyDir, whether or
// not it has been generated yet
func PrivatePath(keyDir string) string {
	return filepath.Join(keyDir, privateKeyName)
}

// GetOrGenerate gets the existing key pair or generates a new one. The key
// pair is stable across invocations so a redeployed instance stays
// reachable with the same credential reference.
func GetOrGenerate(keyDir string) (*KeyPair, error) {
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %v", err)
	}

	privateKeyPath := filepath.Join(keyDir, privateKeyName)
	publicKeyPath := filepath.Join(keyDir, publicKeyName)

	if _, err := os.Stat(privateKeyPath); err == nil {
		if _, err := os.Stat(publicKeyPath); err == nil {
			publicKeyBytes, err := os.ReadFile(publicKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read existing public key: %v", err)
			}
			return &KeyPair{
				PrivateKeyPath: privateKeyPath,
				PublicKeyPath:  publicKeyPath,
				PublicKey:      string(publicKeyBytes),
			}, nil
		}
		// Private key exists but public key doesn't, rederive it
		return derivePublicKey(privateKeyPath, publicKeyPath)
	}

	return generateKeyPair(privateKeyPath, publicKeyPath)
}

// Signer loads the private key for SSH authentication
func (kp *KeyPair) Signer() (xssh.Signer, error) {
	keyBytes, err := os.ReadFile(kp.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %v", err)
	}
	signer, err := xssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}
	return signer, nil
}

func generateKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %v", err)
	}

	privateKeyFile, err := os.OpenFile(privateKeyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key file: %v", err)
	}
	defer privateKeyFile.Close()

	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}
	if err := pem.Encode(privateKeyFile, privateKeyPEM); err != nil {
		return nil, fmt.Errorf("failed to encode private key: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privateKeyPath, publicKeyPath)
}

func derivePublicKey(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKeyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %v", err)
	}

	block, _ := pem.Decode(privateKeyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %v", err)
	}

	return writePublicKey(&privateKey.PublicKey, privateKeyPath, publicKeyPath)
}

func writePublicKey(pub *rsa.PublicKey, privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	publicKey, err := xssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %v", err)
	}

	publicKeyString := string(xssh.MarshalAuthorizedKey(publicKey))
	if err := os.WriteFile(publicKeyPath, []byte(publicKeyString), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %v", err)
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PublicKey:      publicKeyString,
	}, nil
}
