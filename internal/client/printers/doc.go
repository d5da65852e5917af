// Package printers talks to the operating system's print subsystem.
//
// CUPSProvider reports the devices known to CUPS through lpstat, CachedProvider
// keeps that answer for a short time so a burst of scheduling decisions does not
// fork one lpstat per job, and LPDispatcher submits a spooled file with lp.
//
// All external programs run through a CommandRunner so tests can replace them.
package printers
