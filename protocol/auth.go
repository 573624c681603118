package protocol

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// maxAuthIterations bounds the proxy-reconnect loop to prevent an
// adversarial or misbehaving server from looping the client forever.
const maxAuthIterations = 10

// supportedProtocolVersion is the only MAPI protocol version this driver
// understands; anything else in a challenge is a driver error.
const supportedProtocolVersion = "9"

// authHashPriority is the client's preference order when choosing which
// of the server-advertised auth hash algorithms to use.
var authHashPriority = []string{"SHA512", "SHA256", "SHA224", "RIPEMD160"}

// Redirect describes a server-issued redirect: the caller should close the
// current socket and reconnect with these options merged in.
type Redirect struct {
	Host     string
	Port     int
	Database string
}

// AuthOutcome is the result of a successful Authenticate call: either the
// connection is now authenticated, or the server asked the client to
// reconnect elsewhere.
type AuthOutcome struct {
	Redirect *Redirect
}

// hashFunc returns the hash.Hash constructor for a MAPI hash algorithm
// name (matched case-insensitively), or nil for an unknown name.
func hashFunc(name string) func() hash.Hash {
	switch strings.ToUpper(name) {
	case "SHA512":
		return sha512.New
	case "SHA384":
		return sha512.New384
	case "SHA256":
		return sha256.New
	case "SHA224":
		return sha256.New224
	case "RIPEMD160":
		return ripemd160.New
	default:
		return nil
	}
}

func hexHash(h func() hash.Hash, data []byte) string {
	d := h()
	d.Write(data)
	return strings.ToLower(hex.EncodeToString(d.Sum(nil)))
}

// selectAuthHash picks the strongest hash from authHashPriority present in
// the server's comma-separated auth_types list, returning the algorithm
// name and its literal "{NAME}" tag.
func selectAuthHash(authTypes string) (name, tag string, ok bool) {
	offered := make(map[string]bool)
	for _, t := range strings.Split(authTypes, ",") {
		offered[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	for _, candidate := range authHashPriority {
		if offered[candidate] {
			return candidate, "{" + candidate + "}", true
		}
	}
	return "", "", false
}

// challenge is the parsed form of the server's initial handshake message:
// "salt:server_type:9:auth_types:endian:hash_algo:".
type challenge struct {
	salt      string
	authTypes string
	hashAlgo  string
}

func parseChallenge(raw string) (*challenge, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 6 {
		return nil, NewDriverError("malformed auth challenge", []byte(raw))
	}
	if parts[2] != supportedProtocolVersion {
		return nil, NewDriverError("unsupported protocol version "+parts[2], []byte(raw))
	}
	return &challenge{salt: parts[0], authTypes: parts[3], hashAlgo: parts[5]}, nil
}

// buildAuthMessage computes the password/auth digest per spec and
// assembles the "LIT:..." wire message for a parsed challenge.
func buildAuthMessage(username, password, database string, ch *challenge) (string, error) {
	authName, authTag, ok := selectAuthHash(ch.authTypes)
	if !ok {
		return "", NewDriverError("no supported auth hash offered by server", []byte(ch.authTypes))
	}
	pwHash := hashFunc(ch.hashAlgo)
	if pwHash == nil {
		return "", NewDriverError("unsupported password hash algorithm "+ch.hashAlgo, []byte(ch.hashAlgo))
	}
	authHash := hashFunc(authName)

	passwordDigest := hexHash(pwHash, []byte(password))
	final := hexHash(authHash, []byte(passwordDigest+ch.salt))

	return "LIT:" + username + ":" + authTag + final + ":sql:" + database + ":", nil
}

// Authenticate runs the challenge/response handshake over f. It loops on
// proxy indications (re-reading a fresh challenge on the same socket) and
// returns a Redirect outcome without closing anything — the caller is
// responsible for closing the socket and reconnecting.
func Authenticate(f *Framer, username, password, database string) (*AuthOutcome, error) {
	for iter := 0; iter < maxAuthIterations; iter++ {
		raw, err := f.Receive()
		if err != nil {
			return nil, err
		}
		ch, err := parseChallenge(string(raw))
		if err != nil {
			return nil, err
		}

		msg, err := buildAuthMessage(username, password, database, ch)
		if err != nil {
			return nil, err
		}
		if err := f.Send([]byte(msg)); err != nil {
			return nil, err
		}

		reply, err := f.Receive()
		if err != nil {
			return nil, err
		}
		replyStr := string(reply)

		switch {
		case replyStr == "":
			return &AuthOutcome{}, nil
		case strings.HasPrefix(replyStr, "^mapi:merovingian:"):
			continue // proxy indication: loop and re-authenticate
		case strings.HasPrefix(replyStr, "^mapi:"):
			redir, err := parseRedirect(replyStr)
			if err != nil {
				return nil, err
			}
			return &AuthOutcome{Redirect: redir}, nil
		default:
			return nil, NewDriverError("unexpected auth reply", []byte(replyStr))
		}
	}
	return nil, NewDriverError("too many proxy iterations", nil)
}

// parseRedirect parses "^mapi:<uri>" into host/port/database, stripping
// the URI's leading "/" path separator and trailing newline.
func parseRedirect(payload string) (*Redirect, error) {
	uri := strings.TrimPrefix(payload, "^mapi:")
	uri = strings.TrimRight(uri, "\n")

	u, err := url.Parse(uri)
	if err != nil {
		return nil, NewDriverError("malformed redirect uri", []byte(payload))
	}

	port := 0
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, NewDriverError("malformed redirect port", []byte(payload))
		}
	}

	return &Redirect{
		Host:     u.Hostname(),
		Port:     port,
		Database: strings.TrimPrefix(u.Path, "/"),
	}, nil
}
