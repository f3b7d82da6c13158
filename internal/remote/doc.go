// Package remote provides the command channel gridvm uses to drive a
// scheduler frontend.
//
// Everything gridvm does happens through two primitives:
//   - Execute: run a command line on the frontend and return its stdout
//   - Upload: copy a local file to a path on the frontend
//
// The Channel interface captures those primitives. SSHChannel implements it
// on top of golang.org/x/crypto/ssh, optionally hopping through a gateway
// host (the usual access pattern for Grid'5000 sites):
//
//	ch, err := remote.Dial(ctx, remote.Options{
//	    User:    "jdoe",
//	    Host:    "rennes",
//	    Gateway: "access.grid5000.fr",
//	})
//	if err != nil {
//	    return err
//	}
//	defer ch.Close()
//
//	out, err := ch.Execute(ctx, "oarstat --json -u jdoe")
//
// Consumer-Side Interfaces:
//
// Components receive a Channel explicitly; there is no process-wide
// connection. Tests substitute the scripted fake from the remotetest package.
package remote
