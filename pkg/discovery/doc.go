// Package discovery advertises and finds docsync servers on the local network
// over mDNS (DNS-SD). Servers register "_docsync._tcp" with a "path=<ws path>"
// TXT record; clients without a configured URL browse for it.
package discovery
