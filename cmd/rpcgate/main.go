// Command rpcgate runs the admission gateway in front of a JSON-RPC service.
package main

import "github.com/Sentinel-Gate/rpcgate/cmd/rpcgate/cmd"

func main() {
	cmd.Execute()
}
