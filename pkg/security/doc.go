// Package security groups the credential handling used by Covenant's change
// sources. See the secrets subpackage.
package security
