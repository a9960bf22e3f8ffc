// Package deviceclient is the operator-side client for a Sidelights
// controller's HTTP interface.
//
// # Usage Example
//
//	client := deviceclient.NewClient("192.168.1.50", 80)
//
//	status, err := client.GetStatus(ctx)
//	if err != nil {
//	    fmt.Println(deviceclient.Summary(err))
//	    return err
//	}
//	fmt.Println(status.Summary())
//
//	// Provision while joined to the controller's access point
//	msg, err := client.Provision(ctx, "HomeNet", "secret123")
//
//	// Push a firmware image and wait for the controller to come back
//	msg, err = client.PushFirmware(ctx, f, size, func(sent, total int64) {
//	    fmt.Printf("\r%d/%d", sent, total)
//	})
//
// Status reads and light commands are retried with exponential backoff on
// network errors and 5xx responses. Provisioning and uploads are sent once.
package deviceclient
