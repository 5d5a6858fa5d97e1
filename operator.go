/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HashOperPassword returns the stored-credential form of an operator
// block's plaintext password. Config loaders call this once at load
// time; OPER never sees the plaintext again.
func HashOperPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return string(sum[:])
}

// checkOperPassword compares attempt against the stored hash in
// constant time, per errors.go's ErrPasswordMismatch contract.
func checkOperPassword(block *OperBlock, attempt string) bool {
	if block == nil {
		return false
	}
	given := HashOperPassword(attempt)
	return subtle.ConstantTimeCompare([]byte(given), []byte(block.PassHash)) == 1
}

// matchOperHost reports whether host matches any of the block's
// configured host masks (plain glob or CIDR), per spec.md 3's operator
// host-restriction field.
func matchOperHost(block *OperBlock, host, ip string) bool {
	for _, pattern := range block.HostMasks {
		cm := CaseMapASCII
		if GlobMatch(host, pattern, &cm) || CIDRMatch(ip, pattern) {
			return true
		}
	}
	return false
}

// AttemptOper resolves an OPER request against the server's configured
// oper blocks: the name must exist, the host must match, and the
// password must verify. Returns the matched block and ErrPasswordMismatch,
// ErrNoOperHost, or nil.
func AttemptOper(cfg *Config, user *User, name, password string) (*OperBlock, error) {
	block, exists := cfg.Opers[name]
	if !exists {
		return nil, ErrNoOperHost
	}
	if !matchOperHost(block, user.RealHost(), user.IP()) {
		return nil, ErrNoOperHost
	}
	if !checkOperPassword(block, password) {
		return nil, ErrPasswordMismatch
	}
	return block, nil
}
