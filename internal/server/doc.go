// Package server is the controller's HTTP interface.
//
// Routes:
//
//	GET  /         provisioning form
//	POST /save     store station credentials (ssid, password) and connect
//	POST /control  switch lights, e.g. "light1=on&lights=off"
//	POST /ota      firmware image as the raw request body
//	GET  /ota/ws   firmware image as binary WebSocket messages
//	GET  /status   JSON snapshot of network, update and light state
//
// Every body read is bounded by Config.ReadTimeout; a stalled client gets a
// 408 instead of holding the handler. Responses are short plain-text
// messages so they render on the phone that submitted the form.
//
// # Usage Example
//
//	srv, err := server.New(&server.Config{Listen: ":80", ReadTimeout: 5 * time.Second}, server.Deps{
//	    Supervisor:   sup,
//	    Provisioning: provisioning.NewHandler(sup, provisioning.DefaultBodyLimit),
//	    OTA:          transfer,
//	    Lights:       controller,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
