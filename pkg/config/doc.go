// Package config loads the yodler configuration.
//
// The configuration lists the deployment targets, the default command
// backend, the shared memory fact cache, the run history store, telemetry
// and the policy gate. Files are YAML, TOML, CUE or JSON, picked by
// extension, and are decoded over Default before validation:
//
//	deploy:
//	  scenario: deploy.star
//	  vars:
//	    release: 42
//	backend:
//	  type: ssh
//	  ssh:
//	    user: deploy
//	hosts:
//	  - name: web1
//	  - name: web2
//	    backend:
//	      ssh:
//	        port: 2222
//
// CUE files are additionally unified with the #Config schema of the
// SchemaRegistry, so type errors are reported with file positions.
//
// Every format is then checked with validator struct tags plus the rules
// that span fields (unique host names, ssh addresses, exporter endpoints).
package config
