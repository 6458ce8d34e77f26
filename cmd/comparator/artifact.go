package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/weasel/comparator/internal/artifact"
	"github.com/weasel/comparator/internal/fileio"
	"sigs.k8s.io/yaml"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Encode and inspect stored result files",
}

type EncodeOptions struct {
	In       string
	Out      string
	Compress bool
}

type InspectOptions struct {
	Output string
}

type InspectReply struct {
	Name     string            `json:"name"`
	Batch    string            `json:"batch"`
	Message  string            `json:"message"`
	Digest   string            `json:"digest"`
	Overview artifact.Overview `json:"overview"`
	Body     *artifact.Body    `json:"body,omitempty"`
}

func init() {
	artifactCmd.AddCommand(newCmdEncode())
	artifactCmd.AddCommand(newCmdInspect())
}

func newCmdEncode() *cobra.Command {
	o := &EncodeOptions{}
	cmd := &cobra.Command{
		Use:          "encode --in FILE --out PATH",
		Short:        "Encode a JSON test result into a stored result file",
		Example:      "artifact encode --in result.json --out storage/batch-1/msg-1 --compress",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.In == "" || o.Out == "" {
				return fmt.Errorf("both --in and --out are required")
			}
			return o.Run(cmd)
		},
	}
	cmd.Flags().StringVarP(&o.In, "in", "i", "", "path to the JSON test result")
	cmd.Flags().StringVarP(&o.Out, "out", "o", "", "path of the result file to write")
	cmd.Flags().BoolVar(&o.Compress, "compress", false, "compress the result file with zstd")
	return cmd
}

func (o *EncodeOptions) Run(cmd *cobra.Command) error {
	contents, err := os.ReadFile(o.In)
	if err != nil {
		return fmt.Errorf("reading test result: %w", err)
	}

	var doc artifact.Document
	if err := json.Unmarshal(contents, &doc); err != nil {
		return fmt.Errorf("parsing test result: %w", err)
	}

	data, err := artifact.Encode(&doc, o.Compress)
	if err != nil {
		return err
	}

	if err := fileio.NewWriter().WriteFile(o.Out, data); err != nil {
		return fmt.Errorf("writing result file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: written to %s (%d bytes, %s)\n", doc.Metadata.Describe(), o.Out, len(data), artifact.Digest(data))
	return nil
}

func newCmdInspect() *cobra.Command {
	o := &InspectOptions{Output: outputYAML}
	var full bool
	cmd := &cobra.Command{
		Use:          "inspect PATH",
		Short:        "Decode a stored result file and print its overview",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.Output != outputJSON && o.Output != outputYAML {
				return fmt.Errorf("output must be either %s or %s", outputJSON, outputYAML)
			}
			return o.Run(cmd, args[0], full)
		},
	}
	cmd.Flags().StringVarP(&o.Output, "output", "o", o.Output, "output format: json or yaml")
	cmd.Flags().BoolVar(&full, "full", false, "print the full artifact body")
	return cmd
}

func (o *InspectOptions) Run(cmd *cobra.Command, path string, full bool) error {
	raw, err := fileio.NewReader().ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading result file: %w", err)
	}

	a, err := artifact.New(filepath.Base(filepath.Dir(path)), filepath.Base(path), raw)
	if err != nil {
		return err
	}

	reply := InspectReply{
		Name:     a.Describe(),
		Batch:    a.BatchID(),
		Message:  a.MessageID(),
		Digest:   a.Digest(),
		Overview: a.Overview(),
	}
	if full {
		body := a.Body()
		reply.Body = &body
	}

	var out []byte
	switch o.Output {
	case outputJSON:
		out, err = json.MarshalIndent(reply, "", "  ")
		out = append(out, '\n')
	default:
		out, err = yaml.Marshal(reply)
	}
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
