package migrate

// Script upgrades the vault schema by one revision. Revisions are dense:
// every script's FromRevision is the previous script's ToRevision, so an
// upgrade path is always a contiguous slice of this list.
type Script struct {
	FromRevision int
	ToRevision   int
	Version      string
	Description  string
	Statements   []string
}

// scripts is the full upgrade history of the vault schema. Append-only;
// released entries never change, clients at any revision upgrade by
// replaying the tail.
var scripts = []Script{
	{
		FromRevision: 0,
		ToRevision:   1,
		Version:      "1.0.0",
		Description:  "initial schema",
		Statements: []string{
			`CREATE TABLE "Aliases" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "Gender" VARCHAR(255),
    "FirstName" VARCHAR(255),
    "LastName" VARCHAR(255),
    "NickName" VARCHAR(255),
    "BirthDate" TEXT NOT NULL,
    "AddressStreet" VARCHAR(255),
    "AddressCity" VARCHAR(255),
    "AddressState" VARCHAR(255),
    "AddressZipCode" VARCHAR(255),
    "AddressCountry" VARCHAR(255),
    "Hobbies" TEXT,
    "EmailPrefix" TEXT,
    "PhoneMobile" TEXT,
    "BankAccountIBAN" TEXT,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL
)`,
			`CREATE TABLE "Services" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "Name" TEXT,
    "Url" TEXT,
    "Logo" BLOB,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL
)`,
			`CREATE TABLE "Credentials" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "AliasId" TEXT NOT NULL,
    "Notes" TEXT,
    "Username" TEXT NOT NULL,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL,
    "ServiceId" TEXT NOT NULL,
    FOREIGN KEY ("AliasId") REFERENCES "Aliases" ("Id") ON DELETE CASCADE,
    FOREIGN KEY ("ServiceId") REFERENCES "Services" ("Id") ON DELETE CASCADE
)`,
			`CREATE TABLE "Attachment" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "Filename" TEXT NOT NULL,
    "Blob" BLOB NOT NULL,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL,
    "CredentialId" TEXT NOT NULL,
    FOREIGN KEY ("CredentialId") REFERENCES "Credentials" ("Id") ON DELETE CASCADE
)`,
			`CREATE TABLE "Passwords" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "Value" TEXT,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL,
    "CredentialId" TEXT NOT NULL,
    FOREIGN KEY ("CredentialId") REFERENCES "Credentials" ("Id") ON DELETE CASCADE
)`,
			`CREATE INDEX "IX_Attachment_CredentialId" ON "Attachment" ("CredentialId")`,
			`CREATE INDEX "IX_Credentials_AliasId" ON "Credentials" ("AliasId")`,
			`CREATE INDEX "IX_Credentials_ServiceId" ON "Credentials" ("ServiceId")`,
			`CREATE INDEX "IX_Passwords_CredentialId" ON "Passwords" ("CredentialId")`,
		},
	},
	{
		FromRevision: 1,
		ToRevision:   2,
		Version:      "1.0.2",
		Description:  "rename EmailPrefix to Email",
		Statements: []string{
			`ALTER TABLE "Aliases" RENAME COLUMN "EmailPrefix" TO "Email"`,
		},
	},
	{
		FromRevision: 2,
		ToRevision:   3,
		Version:      "1.1.0",
		Description:  "add encryption key storage",
		Statements: []string{
			`CREATE TABLE "EncryptionKeys" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "PublicKey" TEXT NOT NULL,
    "PrivateKey" TEXT NOT NULL,
    "IsPrimary" INTEGER NOT NULL,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL
)`,
		},
	},
	{
		FromRevision: 3,
		ToRevision:   4,
		Version:      "1.2.0",
		Description:  "add settings table",
		Statements: []string{
			`CREATE TABLE "Settings" (
    "Key" TEXT NOT NULL PRIMARY KEY,
    "Value" TEXT,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL
)`,
		},
	},
	{
		FromRevision: 4,
		ToRevision:   5,
		Version:      "1.3.0",
		Description:  "trim identity columns",
		Statements: []string{
			`ALTER TABLE "Aliases" DROP COLUMN "AddressStreet"`,
			`ALTER TABLE "Aliases" DROP COLUMN "AddressCity"`,
			`ALTER TABLE "Aliases" DROP COLUMN "AddressState"`,
			`ALTER TABLE "Aliases" DROP COLUMN "AddressZipCode"`,
			`ALTER TABLE "Aliases" DROP COLUMN "AddressCountry"`,
			`ALTER TABLE "Aliases" DROP COLUMN "Hobbies"`,
			`ALTER TABLE "Aliases" DROP COLUMN "PhoneMobile"`,
			`ALTER TABLE "Aliases" DROP COLUMN "BankAccountIBAN"`,
		},
	},
	{
		FromRevision: 5,
		ToRevision:   6,
		Version:      "1.3.1",
		Description:  "make credential username optional",
		Statements: []string{
			// SQLite cannot alter a column's nullability in place; the
			// table is rebuilt.
			`CREATE TABLE "Credentials_temp" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "AliasId" TEXT NOT NULL,
    "Notes" TEXT,
    "Username" TEXT,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL,
    "ServiceId" TEXT NOT NULL,
    FOREIGN KEY ("AliasId") REFERENCES "Aliases" ("Id") ON DELETE CASCADE,
    FOREIGN KEY ("ServiceId") REFERENCES "Services" ("Id") ON DELETE CASCADE
)`,
			`INSERT INTO "Credentials_temp"
SELECT "Id", "AliasId", "Notes", "Username", "CreatedAt", "UpdatedAt", "ServiceId"
FROM "Credentials"`,
			`DROP TABLE "Credentials"`,
			`ALTER TABLE "Credentials_temp" RENAME TO "Credentials"`,
			`CREATE INDEX "IX_Credentials_AliasId" ON "Credentials" ("AliasId")`,
			`CREATE INDEX "IX_Credentials_ServiceId" ON "Credentials" ("ServiceId")`,
		},
	},
	{
		FromRevision: 6,
		ToRevision:   7,
		Version:      "1.4.0",
		Description:  "add soft-delete flags for sync",
		Statements: []string{
			`ALTER TABLE "Aliases" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "Services" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "Credentials" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "Attachment" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "Passwords" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "EncryptionKeys" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE "Settings" ADD COLUMN "IsDeleted" INTEGER NOT NULL DEFAULT 0`,
		},
	},
	{
		FromRevision: 7,
		ToRevision:   8,
		Version:      "1.4.1",
		Description:  "rename Attachment table to plural",
		Statements: []string{
			`ALTER TABLE "Attachment" RENAME TO "Attachments"`,
			`DROP INDEX "IX_Attachment_CredentialId"`,
			`CREATE INDEX "IX_Attachments_CredentialId" ON "Attachments" ("CredentialId")`,
		},
	},
	{
		FromRevision: 8,
		ToRevision:   9,
		Version:      "1.5.0",
		Description:  "add time-based code storage",
		Statements: []string{
			`CREATE TABLE "TotpCodes" (
    "Id" TEXT NOT NULL PRIMARY KEY,
    "Name" TEXT NOT NULL,
    "SecretKey" TEXT NOT NULL,
    "CredentialId" TEXT NOT NULL,
    "CreatedAt" TEXT NOT NULL,
    "UpdatedAt" TEXT NOT NULL,
    "IsDeleted" INTEGER NOT NULL,
    FOREIGN KEY ("CredentialId") REFERENCES "Credentials" ("Id") ON DELETE CASCADE
)`,
			`CREATE INDEX "IX_TotpCodes_CredentialId" ON "TotpCodes" ("CredentialId")`,
		},
	},
}
