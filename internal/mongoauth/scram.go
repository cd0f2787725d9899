package mongoauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/mongopool/pool/internal/wire"
)

// scramHash parameterizes the SCRAM exchange over its hash function, so
// SCRAM-SHA-1 and SCRAM-SHA-256 share one implementation.
type scramHash struct {
	name   string
	newH   func() hash.Hash
	keyLen int
}

func newSHA256Scram() scramHash {
	return scramHash{name: string(MechanismSCRAMSHA256), newH: sha256.New, keyLen: 32}
}

func newSHA1Scram() scramHash {
	return scramHash{name: string(MechanismSCRAMSHA1), newH: sha1.New, keyLen: 20}
}

// scramLogin runs the full RFC 5802 client flow: saslStart with the
// client-first-message, saslContinue with the client-final-message, and,
// if the server has not yet reported done, a final empty saslContinue to
// close the conversation.
func scramLogin(conn Runner, cred Credential, h scramHash) error {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("mongoauth: generating nonce: %w", err)
	}
	clientNonce := base64.StdEncoding.EncodeToString(nonceBytes)

	gs2Header := "n,,"
	clientFirstBare := fmt.Sprintf("n=%s,r=%s", escapeUsername(cred.Username), clientNonce)
	clientFirstMsg := gs2Header + clientFirstBare

	startResp, err := conn.Command(cred.Source, wire.NewDocument(
		"saslStart", int64(1),
		"mechanism", h.name,
		"payload", clientFirstMsg,
		"autoAuthorize", int64(1),
	), wire.CommandOptions{})
	if err != nil {
		return fmt.Errorf("mongoauth: saslStart: %w", err)
	}
	if !startResp.Bool("ok") && startResp.Int64("ok") != 1 {
		return fmt.Errorf("mongoauth: saslStart failed")
	}
	conversationID := startResp.Int64("conversationId")
	serverFirstMsg := startResp.String("payload")

	serverNonce, salt, iterations, err := parseServerFirst(serverFirstMsg)
	if err != nil {
		return fmt.Errorf("mongoauth: parsing server-first-message: %w", err)
	}
	if !strings.HasPrefix(serverNonce, clientNonce) {
		return fmt.Errorf("mongoauth: server nonce does not start with client nonce")
	}

	saltedPassword := pbkdf2.Key([]byte(cred.Password), salt, iterations, h.keyLen, h.newH)
	clientKey := hmacSum(h, saltedPassword, []byte("Client Key"))
	storedKey := hashSum(h, clientKey)

	channelBinding := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header))
	clientFinalWithoutProof := fmt.Sprintf("%s,r=%s", channelBinding, serverNonce)

	authMessage := clientFirstBare + "," + serverFirstMsg + "," + clientFinalWithoutProof
	clientSignature := hmacSum(h, storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMsg := clientFinalWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)

	continueResp, err := conn.Command(cred.Source, wire.NewDocument(
		"saslContinue", int64(1),
		"conversationId", conversationID,
		"payload", clientFinalMsg,
	), wire.CommandOptions{})
	if err != nil {
		return fmt.Errorf("mongoauth: saslContinue: %w", err)
	}

	serverKey := hmacSum(h, saltedPassword, []byte("Server Key"))
	expectedSig := hmacSum(h, serverKey, []byte(authMessage))
	expectedFinal := "v=" + base64.StdEncoding.EncodeToString(expectedSig)
	if continueResp.String("payload") != expectedFinal {
		return fmt.Errorf("mongoauth: server signature mismatch")
	}

	if !continueResp.Bool("done") {
		// The server has not marked the conversation done: the client
		// closes it with an empty-payload saslContinue.
		if _, err := conn.Command(cred.Source, wire.NewDocument(
			"saslContinue", int64(1),
			"conversationId", conversationID,
			"payload", "",
		), wire.CommandOptions{}); err != nil {
			return fmt.Errorf("mongoauth: closing saslContinue: %w", err)
		}
	}
	return nil
}

// parseServerFirst parses "r=<nonce>,s=<salt>,i=<iterations>".
func parseServerFirst(msg string) (nonce string, salt []byte, iterations int, err error) {
	for _, part := range strings.Split(msg, ",") {
		switch {
		case strings.HasPrefix(part, "r="):
			nonce = part[2:]
		case strings.HasPrefix(part, "s="):
			salt, err = base64.StdEncoding.DecodeString(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("decoding salt: %w", err)
			}
		case strings.HasPrefix(part, "i="):
			iterations, err = strconv.Atoi(part[2:])
			if err != nil {
				return "", nil, 0, fmt.Errorf("parsing iteration count: %w", err)
			}
		}
	}
	if nonce == "" || salt == nil || iterations == 0 {
		return "", nil, 0, fmt.Errorf("incomplete server-first-message: %q", msg)
	}
	return nonce, salt, iterations, nil
}

// escapeUsername replaces "=" with "=3D" and "," with "=2C" per RFC 5802.
func escapeUsername(user string) string {
	user = strings.ReplaceAll(user, "=", "=3D")
	user = strings.ReplaceAll(user, ",", "=2C")
	return user
}

func hmacSum(h scramHash, key, data []byte) []byte {
	mac := hmac.New(h.newH, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func hashSum(h scramHash, data []byte) []byte {
	sum := h.newH()
	sum.Write(data)
	return sum.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
