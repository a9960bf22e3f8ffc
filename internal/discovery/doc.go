// Package discovery publishes and finds Sidelights controllers over mDNS.
//
// The controller advertises an _http._tcp service on <hostname>.local with
// TXT records "app=sidelights", "path=/" and "version=<firmware version>".
// Its Advertiser is re-published whenever the station address changes.
//
// The operator CLI uses Scanner to browse for these services:
//
//	scanner := discovery.NewScanner()
//	scanner.Timeout = 3 * time.Second
//	devices, err := scanner.ScanForDevices()
//	for _, d := range devices {
//	    fmt.Println(d)
//	}
//
// A service is treated as a controller when its hostname starts with
// "sidelights" or its TXT records carry the app tag, so renamed controllers
// are still found.
package discovery
