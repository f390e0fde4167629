package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/XiaoConstantine/mcp-apps-go/pkg/models"
	"github.com/XiaoConstantine/mcp-apps-go/pkg/sandbox"
)

type cspOptions struct {
	connect  []string
	resource []string
	frame    []string
	baseURI  []string
	metaTag  bool
}

func cspCmd() *cobra.Command {
	var opts cspOptions
	cmd := &cobra.Command{
		Use:   "csp [meta.json]",
		Short: "Print the sandbox policy for a UI resource",
		Long: "Reads the ui metadata of a resource (the _meta.ui object) from a file, or from stdin when the\n" +
			"argument is \"-\", adds any domains given as flags and prints the resulting policy.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var meta models.UIResourceMeta
			if len(args) == 1 {
				var err error
				if meta, err = readMeta(cmd.InOrStdin(), args[0]); err != nil {
					return err
				}
			}
			return runCSP(cmd.OutOrStdout(), meta, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.connect, "connect-domain", nil, "Origin the guest may connect to")
	cmd.Flags().StringSliceVar(&opts.resource, "resource-domain", nil, "Origin the guest may load scripts, styles and media from")
	cmd.Flags().StringSliceVar(&opts.frame, "frame-domain", nil, "Origin the guest may embed")
	cmd.Flags().StringSliceVar(&opts.baseURI, "base-uri-domain", nil, "Origin allowed as document base")
	cmd.Flags().BoolVar(&opts.metaTag, "meta", false, "Also print the CSP meta tag injected into the document")
	return cmd
}

func readMeta(stdin io.Reader, path string) (models.UIResourceMeta, error) {
	var meta models.UIResourceMeta
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

func runCSP(w io.Writer, meta models.UIResourceMeta, opts cspOptions) error {
	if len(opts.connect)+len(opts.resource)+len(opts.frame)+len(opts.baseURI) > 0 {
		if meta.CSP == nil {
			meta.CSP = &models.ResourceCSP{}
		}
		meta.CSP.ConnectDomains = append(meta.CSP.ConnectDomains, opts.connect...)
		meta.CSP.ResourceDomains = append(meta.CSP.ResourceDomains, opts.resource...)
		meta.CSP.FrameDomains = append(meta.CSP.FrameDomains, opts.frame...)
		meta.CSP.BaseURIDomains = append(meta.CSP.BaseURIDomains, opts.baseURI...)
	}

	policy, err := sandbox.NewPolicy(meta)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Content-Security-Policy: %s\n", policy.CSP)
	fmt.Fprintf(w, "Permissions-Policy: %s\n", policy.PermissionsPolicy)
	fmt.Fprintf(w, "sandbox: %s\n", policy.Sandbox)
	if policy.Allow != "" {
		fmt.Fprintf(w, "allow: %s\n", policy.Allow)
	}
	if opts.metaTag {
		fmt.Fprintln(w, policy.MetaTag())
	}
	return nil
}
