// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"fmt"
	"time"
)

// protocolVersion is the fixed RFB version string this server advertises.
// Spec §1 excludes RFB >=3.7's security-type-list negotiation; the server
// always speaks the simpler 3.3 handshake, where it unilaterally picks the
// security type instead of offering the client a list to choose from.
const protocolVersion = "RFB 003.003\n"

// securityTypeNone is RFC 6143's "no authentication" security type.
const securityTypeNone uint32 = 1

// securityTypeVNCAuth is RFC 6143's VNC Authentication (DES challenge-response).
const securityTypeVNCAuth uint32 = 2

// securityResultOK / securityResultFailed are RFB 3.3's 4-byte SecurityResult values.
const (
	securityResultOK     uint32 = 0
	securityResultFailed uint32 = 1
)

// Authenticator verifies a connecting client under VNC Authentication.
// ServerConfig supplies one when a password is configured; its absence
// means the session falls back to the None security type.
type Authenticator interface {
	// Password returns the VNC password to authenticate challenge
	// responses against.
	Password() string
}

// staticAuthenticator is the Authenticator used when a fixed password is
// configured at startup, grounded on the teacher's PasswordAuth holding a
// single Password field.
type staticAuthenticator struct {
	password string
}

// NewStaticAuthenticator creates an Authenticator for a fixed password.
func NewStaticAuthenticator(password string) Authenticator {
	return &staticAuthenticator{password: password}
}

func (a *staticAuthenticator) Password() string {
	return a.password
}

// performHandshake runs the fixed RFB 3.3 handshake over bs: protocol
// version exchange, security type selection, optional VNC-Authentication
// challenge/response, and ClientInit. It does not send ServerInit; callers
// write that once session state (framebuffer dimensions, pixel format) is
// established, grounded on the teacher's handshakeWithContext structure but
// simplified for a single, non-negotiated security type instead of the
// RFB>=3.7 security-type list exchange.
func performHandshake(ctx context.Context, bs *ByteStream, auth Authenticator, logger Logger) (shared bool, err error) {
	if err := bs.Write(ctx, []byte(protocolVersion)); err != nil {
		return false, networkError("performHandshake", "failed to write protocol version", err)
	}

	clientVersion := make([]byte, 12)
	if err := bs.Read(ctx, clientVersion); err != nil {
		return false, networkError("performHandshake", "failed to read client protocol version", err)
	}

	validator := newInputValidator()
	if err := validator.ValidateProtocolVersion(string(clientVersion)); err != nil {
		return false, protocolError("performHandshake", "invalid client protocol version", err)
	}

	secType := securityTypeNone
	if auth != nil {
		secType = securityTypeVNCAuth
	}

	if err := bs.WriteBinary(ctx, secType); err != nil {
		return false, networkError("performHandshake", "failed to write security type", err)
	}

	if secType == securityTypeVNCAuth {
		if err := performVNCAuth(ctx, bs, auth, logger); err != nil {
			_ = bs.WriteBinary(ctx, securityResultFailed)
			return false, err
		}
		if err := bs.WriteBinary(ctx, securityResultOK); err != nil {
			return false, networkError("performHandshake", "failed to write security result", err)
		}
	}

	var sharedFlag uint8
	if err := bs.ReadBinary(ctx, &sharedFlag); err != nil {
		return false, networkError("performHandshake", "failed to read ClientInit", err)
	}

	logger.Debug("handshake complete", Field{Key: "shared", Value: sharedFlag != 0})
	return sharedFlag != 0, nil
}

// performVNCAuth runs the DES challenge-response exchange: generate a
// 16-byte challenge, send it, read the client's encrypted response, and
// compare it in constant time against the expected encryption computed with
// the configured password.
func performVNCAuth(ctx context.Context, bs *ByteStream, auth Authenticator, logger Logger) error {
	random := newSecureRandom()
	challenge, err := random.GenerateChallenge(VNCChallengeSize)
	if err != nil {
		return authenticationError("performVNCAuth", "failed to generate challenge", err)
	}

	if err := bs.Write(ctx, challenge); err != nil {
		return networkError("performVNCAuth", "failed to send challenge", err)
	}

	response := make([]byte, VNCChallengeSize)
	if err := bs.Read(ctx, response); err != nil {
		return networkError("performVNCAuth", "failed to read challenge response", err)
	}

	cipher := newSecureDESCipher()
	mem := &SecureMemory{}
	tp := newTimingProtection()

	mismatch := false
	err = tp.ConstantTimeAuthentication(func() error {
		expected, cipherErr := cipher.EncryptVNCChallenge(auth.Password(), challenge)
		if cipherErr != nil {
			return authenticationError("performVNCAuth", "failed to compute expected response", cipherErr)
		}
		if !mem.ConstantTimeCompare(expected, response) {
			mismatch = true
		}
		return nil
	}, vncAuthMinDelay)
	if err != nil {
		return err
	}
	if mismatch {
		logger.Warn("VNC authentication failed")
		return authenticationError("performVNCAuth", "authentication response mismatch", nil)
	}

	logger.Info("VNC authentication succeeded")
	return nil
}

// vncAuthMinDelay is the floor TimingProtection.ConstantTimeAuthentication
// enforces on the DES-compute-and-compare step, so a mismatch and a match
// take approximately the same wall-clock time regardless of how quickly the
// DES computation itself completes.
const vncAuthMinDelay = 5 * time.Millisecond

// writeServerInit sends the ServerInit message (framebuffer dimensions,
// pixel format, and desktop name) that completes the RFB handshake.
func writeServerInit(ctx context.Context, bs *ByteStream, width, height uint16, pf PixelFormat, name string) error {
	if err := bs.WriteBinary(ctx, width); err != nil {
		return networkError("writeServerInit", "failed to write framebuffer width", err)
	}
	if err := bs.WriteBinary(ctx, height); err != nil {
		return networkError("writeServerInit", "failed to write framebuffer height", err)
	}

	pfBytes, err := writePixelFormat(&pf)
	if err != nil {
		return encodingError("writeServerInit", "failed to serialize pixel format", err)
	}
	if err := bs.Write(ctx, pfBytes); err != nil {
		return networkError("writeServerInit", "failed to write pixel format", err)
	}

	nameBytes := []byte(name)
	if len(nameBytes) > 0xFFFF {
		return validationError("writeServerInit", fmt.Sprintf("desktop name too long: %d bytes", len(nameBytes)), nil)
	}
	if err := bs.WriteBinary(ctx, uint32(len(nameBytes))); err != nil {
		return networkError("writeServerInit", "failed to write desktop name length", err)
	}
	if err := bs.Write(ctx, nameBytes); err != nil {
		return networkError("writeServerInit", "failed to write desktop name", err)
	}

	return nil
}
