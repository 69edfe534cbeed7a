// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/arlenwen/pmr/internal/catalog"
)

func newTable(headers ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(os.Stdout)
	t.SetHeader(headers)
	t.SetAutoWrapText(false)
	t.SetBorder(false)
	return t
}

func printProcessTable(recs []*catalog.ProcessRecord) {
	t := newTable("NAME", "STATUS", "PID", "COMMAND")
	for _, r := range recs {
		pid := "-"
		if r.PID != 0 {
			pid = strconv.Itoa(r.PID)
		}
		t.Append([]string{r.Name, string(r.Status), pid, r.Command})
	}
	t.Render()
}

func printProcessDetail(r *catalog.ProcessRecord) {
	pid := "-"
	if r.PID != 0 {
		pid = strconv.Itoa(r.PID)
	}
	fmt.Printf("name:     %s\n", r.Name)
	fmt.Printf("status:   %s\n", r.Status)
	fmt.Printf("pid:      %s\n", pid)
	fmt.Printf("command:  %s\n", r.Command)
	if len(r.Args) > 0 {
		fmt.Printf("args:     %v\n", r.Args)
	}
	fmt.Printf("workdir:  %s\n", r.Workdir)
	fmt.Printf("log_dir:  %s\n", r.LogDir)
	for k, v := range r.Env {
		fmt.Printf("env:      %s=%s\n", k, v)
	}
}

func printTokenTable(toks []*catalog.TokenRecord) {
	t := newTable("ID", "LABEL", "CREATED", "EXPIRES")
	for _, tok := range toks {
		expires := "never"
		if tok.ExpiresAt != nil {
			expires = tok.ExpiresAt.Format("2006-01-02T15:04:05Z")
		}
		t.Append([]string{tok.ID, tok.Label, tok.CreatedAt.Format("2006-01-02T15:04:05Z"), expires})
	}
	t.Render()
}
