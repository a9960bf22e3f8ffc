// Package linkwatch reports station link state to the network supervisor on
// hosts where the radio is driven by NetworkManager.
//
// Watcher embeds the radio driver it watches, so it can be handed to the
// supervisor as both the driver and the event source.
package linkwatch
