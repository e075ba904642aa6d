/*
Package security provides encryption for connector credentials at rest.

Connector configurations arrive as free-form JSON and routinely embed API
tokens, passwords, and OAuth secrets for external systems (Jira, GitHub,
Confluence). Tome never stores those values in the clear: the connector
framework seals each credential field with the Cipher in this package before
the row reaches the database, and opens it only when a sync job needs to call
the remote API.

# Design

AES-256-GCM with a random nonce prepended to every ciphertext. GCM gives
authenticated encryption, so a tampered row fails loudly at decrypt time
instead of producing garbage credentials. The key is either supplied directly
(32 bytes) or derived from a passphrase via SHA-256; the passphrase path backs
the CREDENTIAL_KEY configuration variable.

# Usage

	cipher, err := security.NewCipherFromPassphrase(cfg.Auth.CredentialKey)
	if err != nil {
		return err
	}

	sealed, err := cipher.EncryptString(apiToken)   // store this
	token, err := cipher.DecryptString(sealed)      // use this

# Security Notes

  - A fresh random nonce per encryption: identical plaintexts produce
    different ciphertexts.
  - Decryption failures (wrong key, tampering, truncation) return errors and
    must not be retried.
  - The key itself comes from configuration and is never logged or persisted.

# Integration Points

  - pkg/connector: seals credential fields in connector configs
  - pkg/config: CREDENTIAL_KEY supplies the passphrase
*/
package security
