// Package dtx provides the process composition surface shared by the
// lib-dtx components: an App contract and a Launcher that runs registered
// apps (such as the outbox relay) until they finish.
package dtx
