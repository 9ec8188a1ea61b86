package cryptox

import (
	"fmt"
)

// EncryptedMessage is a mailbox message as served by the API. Every
// content field is encrypted independently under one per-message
// symmetric key, wrapped for the mailbox's public key. Field-wise
// encryption lets list views decrypt previews without fetching bodies.
type EncryptedMessage struct {
	ID             string `json:"id"`
	KeyFingerprint string `json:"keyFingerprint"`
	// WrappedKey is the per-message key wrapped for the mailbox key pair:
	// RSA-OAEP ciphertext or ML-KEM encapsulation, per the pair's type.
	WrappedKey []byte `json:"wrappedKey"`

	Subject     string `json:"subject"`
	FromDisplay string `json:"fromDisplay"`
	FromLocal   string `json:"fromLocal"`
	FromDomain  string `json:"fromDomain"`
	Preview     string `json:"preview"`
	Body        string `json:"body,omitempty"`

	Attachments []EncryptedAttachment `json:"attachments,omitempty"`
}

// EncryptedAttachment carries an attachment with its name and content
// encrypted under the message key.
type EncryptedAttachment struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Message is a decrypted mailbox message.
type Message struct {
	ID          string
	Subject     string
	FromDisplay string
	FromLocal   string
	FromDomain  string
	Preview     string
	Body        string
	Attachments []Attachment
}

// Attachment is a decrypted attachment.
type Attachment struct {
	Filename string
	Content  []byte
}

// From renders the sender as "display <local@domain>".
func (m Message) From() string {
	addr := m.FromLocal + "@" + m.FromDomain
	if m.FromDisplay == "" {
		return addr
	}
	return m.FromDisplay + " <" + addr + ">"
}

// DecryptMessage fully decrypts a message, body and attachments
// included. Returns ErrKeyNotFound when the keyring holds no pair for
// the message's fingerprint.
func DecryptMessage(msg EncryptedMessage, keyring *Keyring) (Message, error) {
	key, err := messageKey(msg, keyring)
	if err != nil {
		return Message{}, err
	}

	out, err := decryptEnvelope(msg, key)
	if err != nil {
		return Message{}, err
	}

	out.Body, err = DecryptString(msg.Body, key)
	if err != nil {
		return Message{}, fmt.Errorf("message %s: body: %w", msg.ID, err)
	}

	for _, att := range msg.Attachments {
		name, err := DecryptString(att.Filename, key)
		if err != nil {
			return Message{}, fmt.Errorf("message %s: attachment name: %w", msg.ID, err)
		}
		content, err := DecryptBlob(att.Content, key)
		if err != nil {
			return Message{}, fmt.Errorf("message %s: attachment %q: %w", msg.ID, name, err)
		}
		out.Attachments = append(out.Attachments, Attachment{Filename: name, Content: content})
	}
	return out, nil
}

// DecryptMessagePreview decrypts only the envelope fields (subject,
// sender, preview), leaving body and attachments untouched. Used for
// list views where bodies were not fetched.
func DecryptMessagePreview(msg EncryptedMessage, keyring *Keyring) (Message, error) {
	key, err := messageKey(msg, keyring)
	if err != nil {
		return Message{}, err
	}
	return decryptEnvelope(msg, key)
}

// MessageError records one failed item of a batch decryption.
type MessageError struct {
	ID  string
	Err error
}

func (e MessageError) Error() string {
	return fmt.Sprintf("message %s: %v", e.ID, e.Err)
}

func (e MessageError) Unwrap() error { return e.Err }

// DecryptMessages preview-decrypts a batch. A failing item is reported
// and skipped; its siblings still decrypt. One undecryptable message
// (rotated-away key, corrupted record) must not blank the whole list.
func DecryptMessages(msgs []EncryptedMessage, keyring *Keyring) ([]Message, []MessageError) {
	out := make([]Message, 0, len(msgs))
	var failed []MessageError
	for _, msg := range msgs {
		m, err := DecryptMessagePreview(msg, keyring)
		if err != nil {
			failed = append(failed, MessageError{ID: msg.ID, Err: err})
			continue
		}
		out = append(out, m)
	}
	return out, failed
}

func messageKey(msg EncryptedMessage, keyring *Keyring) ([]byte, error) {
	kp, ok := keyring.Lookup(msg.KeyFingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrKeyNotFound, msg.KeyFingerprint)
	}
	return unwrapMessageKey(kp, msg.WrappedKey)
}

func decryptEnvelope(msg EncryptedMessage, key []byte) (Message, error) {
	out := Message{ID: msg.ID}

	fields := []struct {
		dst *string
		src string
	}{
		{&out.Subject, msg.Subject},
		{&out.FromDisplay, msg.FromDisplay},
		{&out.FromLocal, msg.FromLocal},
		{&out.FromDomain, msg.FromDomain},
		{&out.Preview, msg.Preview},
	}
	for _, f := range fields {
		v, err := DecryptString(f.src, key)
		if err != nil {
			return Message{}, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		*f.dst = v
	}
	return out, nil
}
