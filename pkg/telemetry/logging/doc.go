// Package logging builds the structured slog logger shared by every
// component.
//
// Output is JSON or text. Credentials are masked before they reach the
// writer: attributes with sensitive keys (token, password, secret and the
// like) are replaced outright, and string values are scrubbed of URL
// userinfo, bearer tokens and personal access tokens.
//
// Components derive child loggers with a "component" attribute:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, nil)
//	if err != nil {
//	    return err
//	}
//	liveLogger := logger.With("component", "live")
//
// Records logged through a *Context method also carry the workflow, agent
// and policy IDs stored in the context.
package logging
