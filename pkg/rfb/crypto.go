package rfb

import (
	"crypto/aes"
	"crypto/des"
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"math/big"
)

// ardCredentialBlockLength - ARD sends credentials as a fixed 128-byte block:
// username in bytes 0-63, password in bytes 64-127, both null-padded
const ardCredentialBlockLength = 128

// prepareVNCKey prepares an 8-byte DES key from a VNC password
//
// Steps:
// 1. Truncate password to 8 bytes (or pad with null bytes if shorter)
// 2. Reverse the bits in each byte (VNC-specific quirk, not standard DES)
func prepareVNCKey(password string) []byte {
	key := make([]byte, 8)

	n := len(password)
	if n > 8 {
		n = 8
	}
	copy(key, password[:n])
	// Remaining bytes are already zero (null padding)

	for i := 0; i < 8; i++ {
		key[i] = reverseBits(key[i])
	}

	return key
}

// reverseBits reverses the bits in a byte
//
// Example:
//
//	Input:  0b10110010 (0xB2)
//	Output: 0b01001101 (0x4D)
func reverseBits(b byte) byte {
	var result byte
	for i := 0; i < 8; i++ {
		result <<= 1
		result |= b & 1
		b >>= 1
	}
	return result
}

// encryptVNCChallenge encrypts a 16-byte VNC challenge using DES
//
// VNC uses a non-standard DES encryption: the password becomes an 8-byte key
// with the bits of each byte reversed, and the challenge is encrypted in two
// 8-byte blocks using ECB mode.
func encryptVNCChallenge(challenge []byte, password string) ([]byte, error) {
	if len(challenge) != VNCAuthChallengeLength {
		return nil, fmt.Errorf("invalid challenge length: got %d bytes, expected %d", len(challenge), VNCAuthChallengeLength)
	}

	key := prepareVNCKey(password)

	block, err := des.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create DES cipher: %w", err)
	}

	response := make([]byte, VNCAuthChallengeLength)
	block.Encrypt(response[0:8], challenge[0:8])
	block.Encrypt(response[8:16], challenge[8:16])

	return response, nil
}

// dhPublicKey computes g^x mod p
func dhPublicKey(generator, private, prime *big.Int) *big.Int {
	return new(big.Int).Exp(generator, private, prime)
}

// dhSharedSecret computes peer^x mod p, left-padded with zeros to size bytes.
// Both sides of the exchange derive the same value (Y^x = g^xy = X^y mod p).
func dhSharedSecret(peerPublic, private, prime *big.Int, size int) []byte {
	secret := new(big.Int).Exp(peerPublic, private, prime)
	return secret.FillBytes(make([]byte, size))
}

// randomDHPrivate generates a random private exponent of size bytes
func randomDHPrivate(size int) (*big.Int, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate DH private key: %w", err)
	}
	return new(big.Int).SetBytes(buf), nil
}

// aesECBEncrypt encrypts plaintext under AES-128-ECB without padding.
// The plaintext length must be a multiple of the AES block size.
//
// ECB is cryptographically weak but is what the ARD wire protocol specifies;
// there is no IV in the exchange.
func aesECBEncrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	if len(plaintext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("plaintext length %d is not a multiple of the AES block size", len(plaintext))
	}

	ciphertext := make([]byte, len(plaintext))
	for i := 0; i < len(plaintext); i += block.BlockSize() {
		block.Encrypt(ciphertext[i:i+block.BlockSize()], plaintext[i:i+block.BlockSize()])
	}

	return ciphertext, nil
}

// ardCredentialBlock builds the fixed 128-byte ARD credential layout:
// username in bytes 0-62, password in bytes 64-126, null-padded. Credentials
// longer than 63 bytes are truncated; no trailing null is required.
func ardCredentialBlock(username, password string) []byte {
	block := make([]byte, ardCredentialBlockLength)

	u := len(username)
	if u > 63 {
		u = 63
	}
	copy(block[0:], username[:u])

	p := len(password)
	if p > 63 {
		p = 63
	}
	copy(block[64:], password[:p])

	return block
}

// ardAuthResponse performs the client side of Apple Remote Desktop
// authentication: generate an ephemeral DH key pair against the server's
// (generator, prime), derive a 16-byte AES key by MD5-hashing the shared
// secret, and encrypt the credential block under AES-128-ECB.
//
// Returns the 128-byte ciphertext and the client public key, left-padded to
// the server's key length; the wire response is ciphertext followed by the
// public key.
func ardAuthResponse(username, password string, generator uint16, prime, serverPublic []byte) (ciphertext, clientPublic []byte, err error) {
	keyLength := len(prime)

	primeInt := new(big.Int).SetBytes(prime)
	if primeInt.Sign() == 0 {
		return nil, nil, fmt.Errorf("invalid ARD prime: zero")
	}
	serverPub := new(big.Int).SetBytes(serverPublic)
	gen := new(big.Int).SetUint64(uint64(generator))

	private, err := randomDHPrivate(keyLength)
	if err != nil {
		return nil, nil, err
	}

	public := dhPublicKey(gen, private, primeInt)
	shared := dhSharedSecret(serverPub, private, primeInt, keyLength)

	aesKey := md5.Sum(shared)

	ciphertext, err = aesECBEncrypt(aesKey[:], ardCredentialBlock(username, password))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt ARD credentials: %w", err)
	}

	return ciphertext, public.FillBytes(make([]byte, keyLength)), nil
}
