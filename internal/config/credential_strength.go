package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakPskdScoreThreshold = 3

// IsWeakJoinerCredential reports whether a submitted PSK-d is weak enough to
// warrant an advisory log line. Commissioning credentials are short-lived
// and already constrained to [6,32] uppercase alphanumeric characters
// (excluding I, O, Q, Z — see actionqueue's addThreadDeviceTask validation),
// so this never rejects a submission; it only helps operators notice when a
// PSK-d is easy to guess within its already-small keyspace.
func IsWeakJoinerCredential(pskd string) bool {
	if pskd == "" {
		return false
	}
	result := zxcvbn.PasswordStrength(pskd, nil)
	return result.Score < weakPskdScoreThreshold
}
