// Package secrets resolves ${secret:name} references in configuration.
//
// Credentials such as the Redis password or a git access token can be
// written in the config file as references:
//
//	live:
//	  sources:
//	    git:
//	      auth:
//	        type: token
//	        token: ${secret:git-token}
//
// A Resolver looks each name up in its providers in order. FromConfig
// builds one from the secrets section: files under secrets.dir first, then
// environment variables named secrets.env_prefix + GIT_TOKEN.
package secrets
