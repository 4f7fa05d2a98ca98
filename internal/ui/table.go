package ui

import (
	"fmt"
	"strconv"

	"github.com/Nitishvarma50/app-p2p/internal/files"
	"github.com/Nitishvarma50/app-p2p/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// FileTableView renders the files about to be offered.
func FileTableView(infos []files.FileInfo) string {
	if len(infos) == 0 {
		return MutedStyle.Render("No files")
	}

	rows := make([][]string, 0, len(infos)+1)
	var total int64
	for i, f := range infos {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			utils.TruncateString(f.Name, 50),
			utils.FormatSize(f.Size),
			utils.TruncateString(f.Type, 24),
		})
		total += f.Size
	}
	if len(infos) > 1 {
		rows = append(rows, []string{"", "Total", utils.FormatSize(total), ""})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(BorderStyle).
		Headers("#", "Name", "Size", "Type").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return HeaderStyle
			case row%2 == 0:
				return EvenRowStyle
			default:
				return OddRowStyle
			}
		}).
		Render()
}

func RenderFileTable(infos []files.FileInfo) {
	fmt.Println(FileTableView(infos))
}

// RoomView is the box showing the room code and link to share.
func RoomView(title, roomID, link string) string {
	content := fmt.Sprintf("%s %s\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconRoom, title,
		IconCopy, CodeStyle.Render(roomID),
		IconWeb, MutedStyle.Render(link),
	)
	return RoomBoxStyle.Render(content)
}
