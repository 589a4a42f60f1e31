// Package email sends transactional billing mail.
//
// NewPostmark delivers through github.com/mrz1836/postmark; NewDirSender
// writes messages to a directory for local development. Both validate the
// Message before doing any work.
package email
