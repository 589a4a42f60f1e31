// Package identity maps billing subjects (by email or processor customer
// reference) to stable tenant identities. Identities are created lazily on
// first pre-checkout or webhook contact and never reassigned.
package identity
