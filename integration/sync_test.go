//go:build integration

package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func writeFiles(root string, files map[string]string) {
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}
}

func readFile(root, rel string) string {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	Expect(err).NotTo(HaveOccurred())
	return string(data)
}

var _ = Describe("bn-loader", func() {
	var h *Harness

	BeforeEach(func() {
		var err error
		h, err = NewHarness(binaryPath, GinkgoT().TempDir(), "stable", "dev", "work")
		Expect(err).NotTo(HaveOccurred())

		writeFiles(h.DataDir("stable"), map[string]string{
			"plugins/a.py":            "Y",
			"plugins/lib/__init__.py": "",
			"settings.json":           `{"ui.theme": "dark"}`,
			"license.dat":             "stable-license",
			"user.id":                 "stable-id",
		})
		writeFiles(h.DataDir("dev"), map[string]string{
			"plugins/a.py":   "X",
			"plugins/old.py": "stale",
			"license.dat":    "dev-license",
		})
	})

	Describe("sync", func() {
		Context("with --dry-run", func() {
			It("reports the plan and changes nothing", func() {
				res, err := h.Run("sync", "--to", "dev", "--dry-run")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.ExitCode).To(Equal(0), res.Stderr)

				Expect(res.Stdout).To(ContainSubstring("~ plugins/a.py (content-differs)"))
				Expect(res.Stdout).To(ContainSubstring("license.dat (excluded: license.dat)"))
				Expect(res.Stdout).To(ContainSubstring("plugins/old.py (absent-in-source)"))
				Expect(readFile(h.DataDir("dev"), "plugins/a.py")).To(Equal("X"))
				Expect(h.BackupDir()).NotTo(BeADirectory())
			})
		})

		Context("without --yes on a non-interactive stdin", func() {
			It("refuses to apply", func() {
				res, err := h.Run("sync", "--to", "dev")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.ExitCode).To(Equal(1))
				Expect(res.Stderr).To(ContainSubstring("--yes"))
				Expect(readFile(h.DataDir("dev"), "plugins/a.py")).To(Equal("X"))
			})
		})

		Context("with --yes", func() {
			It("copies user data, keeps protected files and takes a backup", func() {
				res, err := h.Run("sync", "--yes")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.ExitCode).To(Equal(0), res.Stderr)

				for _, target := range []string{"dev", "work"} {
					dir := h.DataDir(target)
					Expect(readFile(dir, "plugins/a.py")).To(Equal("Y"))
					Expect(readFile(dir, "settings.json")).To(Equal(`{"ui.theme": "dark"}`))
					Expect(filepath.Join(dir, "user.id")).NotTo(BeAnExistingFile())
				}
				Expect(readFile(h.DataDir("dev"), "license.dat")).To(Equal("dev-license"))
				Expect(readFile(h.DataDir("dev"), "plugins/old.py")).To(Equal("stale"))

				Expect(filepath.Join(h.BackupDir(), "dev")).To(BeADirectory())

				again, err := h.Run("sync", "--yes")
				Expect(err).NotTo(HaveOccurred())
				Expect(again.ExitCode).To(Equal(0), again.Stderr)
				Expect(again.Stdout).To(ContainSubstring("(up to date)"))
			})
		})

		Context("with --mirror", func() {
			It("deletes destination files absent in the source", func() {
				res, err := h.Run("sync", "--to", "dev", "--mirror", "--yes")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.ExitCode).To(Equal(0), res.Stderr)

				Expect(filepath.Join(h.DataDir("dev"), "plugins", "old.py")).NotTo(BeAnExistingFile())
				Expect(readFile(h.DataDir("dev"), "license.dat")).To(Equal("dev-license"))
			})
		})

		Context("with an unknown profile", func() {
			It("fails without side effects", func() {
				res, err := h.Run("sync", "--to", "nope", "--yes")
				Expect(err).NotTo(HaveOccurred())
				Expect(res.ExitCode).To(Equal(1))
				Expect(h.BackupDir()).NotTo(BeADirectory())
			})
		})
	})

	Describe("restore", func() {
		It("undoes the last sync", func() {
			res, err := h.Run("sync", "--to", "dev", "--yes")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ExitCode).To(Equal(0), res.Stderr)

			res, err = h.Run("restore", "dev", "--yes")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ExitCode).To(Equal(0), res.Stderr)

			Expect(readFile(h.DataDir("dev"), "plugins/a.py")).To(Equal("X"))
			Expect(filepath.Join(h.DataDir("dev"), "settings.json")).NotTo(BeAnExistingFile())
		})
	})

	Describe("diff", func() {
		It("is empty for a profile compared with itself", func() {
			res, err := h.Run("diff", "stable", "stable")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ExitCode).To(Equal(0), res.Stderr)
			Expect(res.Stdout).To(ContainSubstring("(no differences)"))
		})

		It("lists differing files", func() {
			res, err := h.Run("diff", "stable", "dev")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ExitCode).To(Equal(0), res.Stderr)
			Expect(res.Stdout).To(ContainSubstring("~ plugins/a.py"))
			Expect(res.Stdout).To(ContainSubstring("- plugins/lib/__init__.py (only in 'stable')"))
			Expect(res.Stdout).To(ContainSubstring("Only 'stable' has settings.json"))
		})
	})

	Describe("init", func() {
		It("creates a profile with the template's license", func() {
			dir := filepath.Join(GinkgoT().TempDir(), "fresh")
			res, err := h.Run("init", "fresh", "--template", "dev", "--config-dir", dir)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ExitCode).To(Equal(0), res.Stderr)
			Expect(readFile(dir, "license.dat")).To(Equal("dev-license"))

			res, err = h.Run("list")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stdout).To(ContainSubstring("fresh"))
		})
	})
})
