package main

import (
	"fmt"

	"github.com/atomicgo/cursor"
	"github.com/jedib0t/go-pretty/v6/table"
)

type TableOutput struct {
	data         []byte
	header       table.Row
	footer       table.Row
	body         []table.Row
	title        string
	lastPosition int
}

func (o *TableOutput) rowsCount() int {
	rows := 4 + len(o.body)
	if o.footer != nil {
		rows += 2
	}
	if o.title != "" {
		rows += 2
	}
	return rows
}

func (o *TableOutput) Write(data []byte) (n int, err error) {
	o.data = append(o.data, data...)
	return len(data), nil
}

func (o *TableOutput) print() {
	if o.lastPosition > 0 {
		cursor.ClearLinesUp(o.lastPosition)
	}
	fmt.Printf("%s", o.data)
	o.lastPosition = o.rowsCount()
}

func (o *TableOutput) buildTable() {
	o.data = nil
	rowConfigAutoMerge := table.RowConfig{AutoMerge: true}
	t := table.NewWriter()
	t.SetOutputMirror(o)
	if o.title != "" {
		t.SetTitle(o.title)
	}
	t.AppendHeader(o.header, rowConfigAutoMerge)
	t.AppendRows(o.body)
	t.SetStyle(table.StyleColoredGreenWhiteOnBlack)
	if o.footer != nil {
		t.AppendFooter(o.footer)
	}
	t.Render()
}
