// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

/*
Package supervisor runs the wrapper's long-lived services under suture v4.

	RootSupervisor ("acwrapper")
	├── ProcessSupervisor ("process-layer")
	│   ├── ACServerService   wrapped server; never restarted
	│   └── GeoService        one-shot location lookup
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

The wrapped server is not restarted when it exits: ACServerService returns
suture.ErrDoNotRestart, and the gateway answers 503 from then on. A server
that cannot be started at all ends the tree with
suture.ErrTerminateSupervisorTree so the process exits with an error.

Supervisor events are logged through sutureslog, bridged to zerolog by
logging.NewSlogLogger:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddProcessService(services.NewACServerService(opts, hooks))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
