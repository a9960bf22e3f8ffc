// Package lights switches the controller's light outputs.
//
// Commands arrive as form pairs such as "light1=on&light3=off". The key
// "lights" switches every configured output. On linux the outputs are GPIO
// lines requested through the character device; Simulated keeps the values
// in memory for development and tests.
package lights
