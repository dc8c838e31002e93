// Package discovery finds running dialdeck daemons on the local network.
//
// Daemons announce themselves via mDNS as _dialdeck._tcp services (see
// the server package). This package is the browse side: it scans for
// those announcements so client tools can locate a hub host without
// configuration.
//
// Note that "discovery" here means network discovery of daemons. The
// discovery of dials on a hub's internal bus is the registry package's
// job and works over the serial link, not mDNS.
package discovery
